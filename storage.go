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
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/ichiba-io/ichiba/config"
)

// StorageClient wraps S3-compatible object storage for the image pipeline.
// It works against AWS S3 or a local MinIO endpoint.
type StorageClient struct {
	s3       *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	cdnBase  string
}

// NewStorageClient builds a storage client from configuration.
func NewStorageClient(conf *config.Configuration) (*StorageClient, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(conf.Storage.Region),
		S3ForcePathStyle: aws.Bool(conf.Storage.ForcePathStyle),
	}
	if conf.Storage.Endpoint != "" {
		awsConfig.Endpoint = aws.String(conf.Storage.Endpoint)
	}
	if conf.Storage.AccessKeyId != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(conf.Storage.AccessKeyId, conf.Storage.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, err
	}

	return &StorageClient{
		s3:       s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   conf.Storage.Bucket,
		cdnBase:  strings.TrimSuffix(conf.Storage.CdnBaseUrl, "/"),
	}, nil
}

// StorageKey derives the object key for a processed product image. Keys are
// scoped by product and timestamped so re-runs never overwrite earlier
// uploads.
func StorageKey(productID string, index int, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("products/%s/%d-%d.%s", productID, time.Now().Unix(), index, ext)
}

// UploadFile uploads a local file and returns its externally reachable URL.
func (s *StorageClient) UploadFile(ctx context.Context, path, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}

	return s.ExternalURL(key)
}

// UploadBuffer uploads in-memory bytes and returns the externally reachable
// URL.
func (s *StorageClient) UploadBuffer(ctx context.Context, data []byte, key, contentType string) (string, error) {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}

	return s.ExternalURL(key)
}

// IsInternalURL reports whether a URL points at a host that an external
// marketplace cannot resolve, such as localhost or an in-cluster MinIO
// address.
func IsInternalURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "minio" ||
		strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal")
}

// ExternalURL builds an externally reachable URL for an object key. With a
// CDN base configured the CDN URL is returned; otherwise a presigned URL is
// generated. Marketplace APIs fetch these directly, so they must resolve
// from outside our network.
func (s *StorageClient) ExternalURL(key string) (string, error) {
	if s.cdnBase != "" {
		return fmt.Sprintf("%s/%s", s.cdnBase, key), nil
	}

	req, _ := s.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return req.Presign(7 * 24 * time.Hour)
}

// RewriteInternalURL maps an internal object URL to its externally reachable
// form. Non-internal URLs pass through unchanged.
func (s *StorageClient) RewriteInternalURL(rawURL string) (string, error) {
	if !IsInternalURL(rawURL) {
		return rawURL, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, err
	}
	key := strings.TrimPrefix(u.Path, "/")
	key = strings.TrimPrefix(key, s.bucket+"/")
	return s.ExternalURL(key)
}
