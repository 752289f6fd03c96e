package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	headErr error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Store(t *testing.T) {
	fake := newFakeS3()
	s := newS3Store(fake, "evidence", "packs/")
	ctx := context.Background()
	data := []byte(`{"gate_id":"gate-1"}`)

	hash, err := s.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, ContentHash(data), hash)

	_, err = s.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.puts, "second store is a no-op")

	got, err := s.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := s.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	loc, err := s.Location(hash)
	require.NoError(t, err)
	assert.Equal(t, "s3://evidence/packs/"+hash[len(HashPrefix):]+".blob", loc)
}

func TestS3Store_Missing(t *testing.T) {
	s := newS3Store(newFakeS3(), "evidence", "")
	ctx := context.Background()
	missing := HashPrefix + strings.Repeat("1", 64)

	_, err := s.Get(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3Store_HeadFailureIsNotAbsence(t *testing.T) {
	fake := newFakeS3()
	fake.headErr = errors.New("503 slow down")
	s := newS3Store(fake, "evidence", "")

	_, err := s.Store(context.Background(), []byte("x"))
	assert.ErrorContains(t, err, "503 slow down")
	assert.Equal(t, 0, fake.puts)

	_, err = s.Exists(context.Background(), ContentHash([]byte("x")))
	assert.Error(t, err)
}
