/*
Copyright 2024 Ichiba Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ichiba

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/ichiba-io/ichiba/config"
	"github.com/ichiba-io/ichiba/internal/apierror"
)

// Marketplace image bounds. Violations are collected, not failed fast, so a
// bad image reports everything wrong with it at once.
const (
	MinImageDimension = 500
	MaxImageDimension = 5000
	MaxImageFileSize  = 10 * 1024 * 1024
	MaxAspectRatio    = 3.0
)

// DownloadOptions controls retry behavior for a single image download.
type DownloadOptions struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// DownloadResult reports the outcome of one image download.
type DownloadResult struct {
	URL      string
	FilePath string
	Success  bool
	Error    string
	Attempts int
}

// OptimizationResult reports the outcome of one image optimization.
type OptimizationResult struct {
	InputPath  string
	OutputPath string
	Success    bool
	Error      string
	Width      int
	Height     int
}

// ImageValidation reports marketplace bound checks for an image.
type ImageValidation struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

func defaultDownloadOptions(opts DownloadOptions) DownloadOptions {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 1 * time.Second
	}
	return opts
}

// DownloadImage fetches an image URL to a local path. It retries with
// linearly increasing backoff (delay * attempt number) and rejects responses
// whose content type is not image/*. Exactly opts.Retries attempts are made
// before giving up.
func DownloadImage(ctx context.Context, url, destPath string, opts DownloadOptions) DownloadResult {
	opts = defaultDownloadOptions(opts)
	result := DownloadResult{URL: url, FilePath: destPath}

	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		result.Attempts = attempt
		if attempt > 1 {
			select {
			case <-time.After(opts.RetryDelay * time.Duration(attempt-1)):
			case <-ctx.Done():
				result.Error = ctx.Err().Error()
				return result
			}
		}

		err := downloadOnce(ctx, url, destPath, opts.Timeout)
		if err == nil {
			result.Success = true
			return result
		}
		lastErr = err
		logrus.WithFields(logrus.Fields{"url": url, "attempt": attempt}).Warnf("image download failed: %v", err)
	}

	result.Error = lastErr.Error()
	return result
}

func downloadOnce(ctx context.Context, url, destPath string, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("not an image content type: %s", contentType)
	}

	img, err := imaging.Decode(resp.Body)
	if err != nil {
		return err
	}
	return imaging.Save(img, destPath)
}

// OptimizeOptions controls resizing and re-encoding of one image.
type OptimizeOptions struct {
	MaxWidth   int
	MaxHeight  int
	Quality    int
	Background bool // composite onto an opaque white canvas
}

// OptimizeImage resizes an image to fit inside the configured bounds without
// ever upscaling, optionally centers it on a white canvas, strips metadata
// by re-encoding, and writes a JPEG. The output path extension decides the
// encoder, so a .webp name still encodes JPEG content as the compatibility
// fallback.
func OptimizeImage(inputPath, outputPath string, opts OptimizeOptions) OptimizationResult {
	result := OptimizationResult{InputPath: inputPath, OutputPath: outputPath}

	src, err := imaging.Open(inputPath)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	// Fit inside bounds, never upscale.
	if width > opts.MaxWidth || height > opts.MaxHeight {
		src = imaging.Fit(src, opts.MaxWidth, opts.MaxHeight, imaging.Lanczos)
		bounds = src.Bounds()
		width, height = bounds.Dx(), bounds.Dy()
	}

	var out image.Image = src
	if opts.Background {
		canvas := imaging.New(width, height, color.White)
		out = imaging.OverlayCenter(canvas, src, 1.0)
	}

	encodePath := outputPath
	if strings.HasSuffix(strings.ToLower(outputPath), ".webp") {
		encodePath = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".jpg"
		result.OutputPath = encodePath
	}

	err = imaging.Save(out, encodePath, imaging.JPEGQuality(opts.Quality))
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.Width = width
	result.Height = height
	return result
}

// ValidateForJoom checks an image against marketplace bounds and reports
// every violated bound rather than stopping at the first.
func ValidateForJoom(width, height int, fileSize int64) ImageValidation {
	var issues []string

	if width < MinImageDimension || height < MinImageDimension {
		issues = append(issues, fmt.Sprintf("image too small: %dx%d, minimum %dx%d", width, height, MinImageDimension, MinImageDimension))
	}
	if width > MaxImageDimension || height > MaxImageDimension {
		issues = append(issues, fmt.Sprintf("image too large: %dx%d, maximum %dx%d", width, height, MaxImageDimension, MaxImageDimension))
	}
	if fileSize > MaxImageFileSize {
		issues = append(issues, fmt.Sprintf("file too large: %d bytes, maximum %d", fileSize, MaxImageFileSize))
	}
	if width > 0 && height > 0 {
		ratio := float64(width) / float64(height)
		if ratio < 1 {
			ratio = 1 / ratio
		}
		if ratio > MaxAspectRatio {
			issues = append(issues, fmt.Sprintf("extreme aspect ratio: %.2f, maximum %.1f", ratio, MaxAspectRatio))
		}
	}

	return ImageValidation{Valid: len(issues) == 0, Issues: issues}
}

// ProcessedImages is the output of a full image pipeline run.
type ProcessedImages struct {
	Buffered  []string
	Optimized []string
}

// ProcessImages runs the full pipeline for a product: download each source
// image, optimize it, and upload the result to storage. Work is bounded by
// the configured concurrency. Individual image failures are skipped; only a
// run yielding zero usable images is an error.
func (i *Ichiba) ProcessImages(ctx context.Context, productID string, imageURLs []string) (*ProcessedImages, error) {
	ctx, span := tracer.Start(ctx, "Processing product images")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	var validURLs []string
	for _, u := range imageURLs {
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			validURLs = append(validURLs, u)
		}
	}
	if len(validURLs) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "No valid image URLs", nil)
	}

	tempDir, err := os.MkdirTemp("", fmt.Sprintf("ichiba-images-%s-", productID))
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	type processed struct {
		index int
		path  string
	}

	sem := make(chan struct{}, cfg.Image.Concurrency)
	results := make([]processed, len(validURLs))
	var wg sync.WaitGroup

	for idx, url := range validURLs {
		wg.Add(1)
		go func(idx int, url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rawPath := filepath.Join(tempDir, fmt.Sprintf("raw-%d.img", idx))
			dl := DownloadImage(ctx, url, rawPath, DownloadOptions{})
			if !dl.Success {
				logrus.WithField("product_id", productID).Warnf("skipping image %d: %s", idx, dl.Error)
				return
			}

			outPath := filepath.Join(tempDir, fmt.Sprintf("image-%d.%s", idx, cfg.Image.Format))
			opt := OptimizeImage(rawPath, outPath, OptimizeOptions{
				MaxWidth:   cfg.Image.MaxWidth,
				MaxHeight:  cfg.Image.MaxHeight,
				Quality:    cfg.Image.Quality,
				Background: true,
			})
			if !opt.Success {
				logrus.WithField("product_id", productID).Warnf("skipping image %d: %s", idx, opt.Error)
				return
			}
			results[idx] = processed{index: idx, path: opt.OutputPath}
		}(idx, url)
	}
	wg.Wait()

	out := &ProcessedImages{}
	uploadIdx := 0
	for _, r := range results {
		if r.path == "" {
			continue
		}
		url, err := i.storage.UploadFile(ctx, r.path, StorageKey(productID, uploadIdx, filepath.Ext(r.path)))
		if err != nil {
			logrus.WithField("product_id", productID).Warnf("upload failed for image %d: %v", r.index, err)
			continue
		}
		out.Buffered = append(out.Buffered, url)
		out.Optimized = append(out.Optimized, url)
		uploadIdx++
	}

	if len(out.Optimized) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrUpstream, "All image processing failed", nil)
	}

	return out, nil
}
