package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"netfetch/storage/types"
)

// MockObjectStorage is a testify mock of types.ObjectStorage.
type MockObjectStorage struct {
	mock.Mock
}

var _ types.ObjectStorage = (*MockObjectStorage)(nil)

func (m *MockObjectStorage) Put(ctx context.Context, bucket, key string, reader io.Reader, metadata types.ObjectMetadata) error {
	args := m.Called(ctx, bucket, key, reader, metadata)
	return args.Error(0)
}

func (m *MockObjectStorage) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockObjectStorage) GetWithMetadata(ctx context.Context, bucket, key string) (io.ReadCloser, *types.ObjectMetadata, error) {
	args := m.Called(ctx, bucket, key)

	var reader io.ReadCloser
	var metadata *types.ObjectMetadata
	if args.Get(0) != nil {
		reader = args.Get(0).(io.ReadCloser)
	}
	if args.Get(1) != nil {
		metadata = args.Get(1).(*types.ObjectMetadata)
	}
	return reader, metadata, args.Error(2)
}

func (m *MockObjectStorage) Delete(ctx context.Context, bucket, key string) error {
	args := m.Called(ctx, bucket, key)
	return args.Error(0)
}

func (m *MockObjectStorage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	args := m.Called(ctx, bucket, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectStorage) List(ctx context.Context, bucket, prefix string) ([]types.ObjectInfo, error) {
	args := m.Called(ctx, bucket, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ObjectInfo), args.Error(1)
}
