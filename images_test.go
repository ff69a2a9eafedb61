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
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
)

func TestValidateForJoom(t *testing.T) {
	t.Run("Valid image", func(t *testing.T) {
		result := ValidateForJoom(1200, 1200, 500*1024)
		assert.True(t, result.Valid)
		assert.Empty(t, result.Issues)
	})

	t.Run("Too small", func(t *testing.T) {
		result := ValidateForJoom(499, 800, 500*1024)
		assert.False(t, result.Valid)
		assert.Len(t, result.Issues, 1)
		assert.Contains(t, result.Issues[0], "too small")
	})

	t.Run("Too large", func(t *testing.T) {
		result := ValidateForJoom(5001, 1200, 500*1024)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Issues[0], "too large")
	})

	t.Run("File too big", func(t *testing.T) {
		result := ValidateForJoom(1200, 1200, MaxImageFileSize+1)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Issues[0], "file too large")
	})

	t.Run("Extreme aspect ratio both orientations", func(t *testing.T) {
		wide := ValidateForJoom(3100, 1000, 500*1024)
		assert.False(t, wide.Valid)
		assert.Contains(t, wide.Issues[0], "aspect ratio")

		tall := ValidateForJoom(1000, 3100, 500*1024)
		assert.False(t, tall.Valid)
	})

	t.Run("All violations reported together", func(t *testing.T) {
		result := ValidateForJoom(400, 100, MaxImageFileSize+1)
		assert.False(t, result.Valid)
		assert.Len(t, result.Issues, 3)
	})
}

func writeTestImage(t *testing.T, path string, width, height int) {
	t.Helper()
	img := imaging.New(width, height, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("failed to write test image: %v", err)
	}
}

func TestDownloadImage(t *testing.T) {
	t.Run("Successful download", func(t *testing.T) {
		imgPath := filepath.Join(t.TempDir(), "src.jpg")
		writeTestImage(t, imgPath, 600, 600)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/jpeg")
			http.ServeFile(w, r, imgPath)
		}))
		defer srv.Close()

		dest := filepath.Join(t.TempDir(), "out.jpg")
		result := DownloadImage(context.Background(), srv.URL, dest, DownloadOptions{RetryDelay: time.Millisecond})
		assert.True(t, result.Success)
		assert.Equal(t, 1, result.Attempts)

		img, err := imaging.Open(dest)
		assert.NoError(t, err)
		assert.Equal(t, 600, img.Bounds().Dx())
	})

	t.Run("Exactly the configured attempts on persistent failure", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		dest := filepath.Join(t.TempDir(), "out.jpg")
		result := DownloadImage(context.Background(), srv.URL, dest, DownloadOptions{Retries: 3, RetryDelay: time.Millisecond})
		assert.False(t, result.Success)
		assert.Equal(t, 3, result.Attempts)
		assert.Equal(t, 3, hits)
		assert.Contains(t, result.Error, "unexpected status 500")
	})

	t.Run("Rejects non-image content type", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>not an image</html>"))
		}))
		defer srv.Close()

		dest := filepath.Join(t.TempDir(), "out.jpg")
		result := DownloadImage(context.Background(), srv.URL, dest, DownloadOptions{Retries: 1, RetryDelay: time.Millisecond})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not an image content type")
	})
}

func TestOptimizeImage(t *testing.T) {
	t.Run("Downscales oversized image preserving aspect", func(t *testing.T) {
		dir := t.TempDir()
		input := filepath.Join(dir, "in.jpg")
		writeTestImage(t, input, 2400, 1200)

		result := OptimizeImage(input, filepath.Join(dir, "out.jpg"), OptimizeOptions{MaxWidth: 1200, MaxHeight: 1200, Quality: 85})
		assert.True(t, result.Success)
		assert.Equal(t, 1200, result.Width)
		assert.Equal(t, 600, result.Height)
	})

	t.Run("Never upscales", func(t *testing.T) {
		dir := t.TempDir()
		input := filepath.Join(dir, "in.jpg")
		writeTestImage(t, input, 400, 300)

		result := OptimizeImage(input, filepath.Join(dir, "out.jpg"), OptimizeOptions{MaxWidth: 1200, MaxHeight: 1200, Quality: 85})
		assert.True(t, result.Success)
		assert.Equal(t, 400, result.Width)
		assert.Equal(t, 300, result.Height)
	})

	t.Run("Webp output falls back to jpg", func(t *testing.T) {
		dir := t.TempDir()
		input := filepath.Join(dir, "in.jpg")
		writeTestImage(t, input, 600, 600)

		result := OptimizeImage(input, filepath.Join(dir, "out.webp"), OptimizeOptions{MaxWidth: 1200, MaxHeight: 1200, Quality: 85})
		assert.True(t, result.Success)
		assert.Equal(t, filepath.Join(dir, "out.jpg"), result.OutputPath)

		_, err := imaging.Open(result.OutputPath)
		assert.NoError(t, err)
	})

	t.Run("Missing input fails cleanly", func(t *testing.T) {
		result := OptimizeImage(filepath.Join(t.TempDir(), "missing.jpg"), filepath.Join(t.TempDir(), "out.jpg"), OptimizeOptions{MaxWidth: 1200, MaxHeight: 1200, Quality: 85})
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Error)
	})
}
