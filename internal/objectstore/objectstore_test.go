package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dukerupert/crewtasks/internal/apperr"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(Config{Bucket: "b"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
	if _, err := New(Config{Bucket: "b", AccessKey: "k", SecretKey: "s", Region: "us-east-1"}); err != nil {
		t.Errorf("new: %v", err)
	}
}

func TestGetMissingKey(t *testing.T) {
	s, _ := newStorage(newMockS3(), Config{Bucket: "b"})

	_, ok, err := s.Get(context.Background(), "tasks")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing object")
	}
}

func TestSetGetWithPrefix(t *testing.T) {
	mock := newMockS3()
	s, _ := newStorage(mock, Config{Bucket: "b", Prefix: "crew/prod"})
	ctx := context.Background()

	if err := s.Set(ctx, "tasks", `[{"id":"1"}]`); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok := mock.objects["crew/prod/tasks.json"]; !ok {
		t.Errorf("object keys = %v", mock.objects)
	}

	v, ok, err := s.Get(ctx, "tasks")
	if err != nil || !ok {
		t.Fatalf("get = ok %v, err %v", ok, err)
	}
	if v != `[{"id":"1"}]` {
		t.Errorf("value = %q", v)
	}

	if err := s.Delete(ctx, "tasks"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "tasks"); ok {
		t.Error("expected object gone after delete")
	}
}

func TestSealedObjects(t *testing.T) {
	mock := newMockS3()
	s, err := newStorage(mock, Config{Bucket: "b", Passphrase: "correct horse"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	if err := s.Set(ctx, "monthlyTarget", "1000"); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw := mock.objects["monthlyTarget.json"]
	if strings.Contains(string(raw), "1000") {
		t.Error("object body stored in plaintext")
	}

	v, ok, err := s.Get(ctx, "monthlyTarget")
	if err != nil || !ok || v != "1000" {
		t.Fatalf("get = %q, %v, %v", v, ok, err)
	}

	// A second process with the same passphrase reads the object.
	other, _ := newStorage(mock, Config{Bucket: "b", Passphrase: "correct horse"})
	if v, _, err := other.Get(ctx, "monthlyTarget"); err != nil || v != "1000" {
		t.Errorf("other get = %q, %v", v, err)
	}

	wrong, _ := newStorage(mock, Config{Bucket: "b", Passphrase: "wrong"})
	if _, _, err := wrong.Get(ctx, "monthlyTarget"); err == nil {
		t.Error("expected decrypt error with wrong passphrase")
	}
}

func TestNetworkErrors(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("connection reset")
	mock.putErr = errors.New("connection reset")
	s, _ := newStorage(mock, Config{Bucket: "b"})

	if _, _, err := s.Get(context.Background(), "tasks"); !errors.Is(err, apperr.ErrNetwork) {
		t.Errorf("get error = %v, want ErrNetwork", err)
	}
	if err := s.Set(context.Background(), "tasks", "[]"); !errors.Is(err, apperr.ErrNetwork) {
		t.Errorf("set error = %v, want ErrNetwork", err)
	}
}

func TestOpenTooSmall(t *testing.T) {
	sl, _ := newSealer("pw")
	if _, err := sl.open([]byte("short")); !errors.Is(err, errSealedTooSmall) {
		t.Errorf("error = %v, want errSealedTooSmall", err)
	}
}
