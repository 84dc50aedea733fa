// Copyright 2023 MeerkatDB Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package objstore

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// S3Params represents the configuration of the S3 object store.
type S3Params struct {
	// Endpoint overrides the AWS endpoint.
	// When set, path-style addressing is used, as expected by S3-compatible stores.
	Endpoint string

	Region string
	Bucket string

	// AccessKeyID and SecretAccessKey override the default credentials chain when set.
	AccessKeyID     string
	SecretAccessKey string

	L *zap.Logger
}

// S3 implements ObjectStore and Uploader on an S3 bucket.
type S3 struct {
	c        *s3.Client
	uploader *manager.Uploader
	bucket   string
	l        *zap.Logger
}

// NewS3 creates a new S3 object store for the given bucket.
func NewS3(ctx context.Context, params *S3Params) (*S3, error) {
	if params.Bucket == "" {
		return nil, lazyerrors.New("bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error

	if params.Region != "" {
		opts = append(opts, awsconfig.WithRegion(params.Region))
	}

	if params.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(params.AccessKeyID, params.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	c := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{
		c:        c,
		uploader: manager.NewUploader(c),
		bucket:   params.Bucket,
		l:        params.L,
	}, nil
}

// List implements ObjectStore.
func (st *S3) List(ctx context.Context, glob string) ([]ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(st.bucket),
	}

	if prefix := globPrefix(glob); prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var res []ObjectInfo

	p := s3.NewListObjectsV2Paginator(st.c, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)

			matched, err := matchGlob(glob, key)
			if err != nil {
				return nil, lazyerrors.Error(err)
			}

			if !matched {
				continue
			}

			res = append(res, ObjectInfo{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	// S3 returns keys in UTF-8 binary order already; sort anyway so callers
	// do not depend on that detail
	slices.SortFunc(res, func(a, b ObjectInfo) int { return strings.Compare(a.Key, b.Key) })

	return res, nil
}

// Get implements ObjectStore.
func (st *S3) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := st.c.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return out.Body, nil
}

// Delete implements ObjectStore.
func (st *S3) Delete(ctx context.Context, key string) error {
	if _, err := st.c.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// Put implements Uploader.
func (st *S3) Put(ctx context.Context, key string, r io.Reader) error {
	if _, err := st.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(key),
		Body:   r,
	}); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// check interfaces
var (
	_ ObjectStore = (*S3)(nil)
	_ Uploader    = (*S3)(nil)
)
