package sessionstore

import (
	"context"
	"io/ioutil"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

const s3KeyPrefix = "wallet/session/"

// s3API is the part of *s3.Client the store uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps the session as one object in a bucket, for hosts without local disk.
type S3Store struct {
	client     s3API
	bucketName string
	key        string
}

// NewS3Store loads the default AWS credential chain for region.
func NewS3Store(ctx context.Context, bucketName, region, key string) (*S3Store, error) {
	if bucketName == "" || region == "" {
		return nil, errors.New("s3 bucket or region not present")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "unable to load SDK config")
	}
	log.Infof("Using s3 session store %v/%v", bucketName, region)
	return newS3Store(s3.NewFromConfig(cfg), bucketName, key), nil
}

func newS3Store(client s3API, bucketName, key string) *S3Store {
	if key == "" {
		key = DefaultKey
	}
	return &S3Store{client: client, bucketName: bucketName, key: s3KeyPrefix + key}
}

func (s *S3Store) Load(ctx context.Context) (string, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return "", false, nil
		}
		return "", false, errors.WrapAndReport(err, "get session object from s3")
	}
	defer out.Body.Close()
	blob, err := ioutil.ReadAll(out.Body)
	if err != nil {
		return "", false, errors.Wrap(err, "read session object")
	}
	return string(blob), true, nil
}

func (s *S3Store) Save(ctx context.Context, session string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(s.key),
		Body:        strings.NewReader(session),
		ContentType: aws.String("application/json"),
	})
	return errors.WrapAndReport(err, "put session object to s3")
}

func (s *S3Store) Delete(ctx context.Context) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var missing *types.NotFound
		if errors.As(err, &missing) {
			return false, nil
		}
		return false, errors.WrapAndReport(err, "head session object")
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return false, errors.WrapAndReport(err, "delete session object")
	}
	return true, nil
}

func (s *S3Store) Close() error {
	return nil
}
