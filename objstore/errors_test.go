package objstore

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{errors.New("NoSuchKey: The specified key does not exist"), ErrNotFound},
		{errors.New("operation error S3: GetObject, 404 Not Found"), ErrNotFound},
		{errors.New("SlowDown: please reduce request rate"), ErrThrottled},
		{errors.New("NoCredentialProviders: no valid providers in chain"), ErrAuth},
		{errors.New("AccessDenied: access denied"), ErrAccessDenied},
		{errors.New("dial tcp 10.0.0.1:443: connection refused"), ErrNetwork},
		{errors.New("context deadline exceeded"), ErrTimeout},
	}

	for _, tt := range tests {
		got := classifyError(tt.err)
		if !errors.Is(got, tt.want) {
			t.Errorf("classifyError(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestStorageError_Chain(t *testing.T) {
	underlying := errors.New("NoSuchKey: nope")
	wrapped := WrapReadError(underlying, "s3://models/archives/abc.omex")

	if !errors.Is(wrapped, ErrNotFound) {
		t.Errorf("wrapped error does not match ErrNotFound: %v", wrapped)
	}

	var storageErr *StorageError
	if !errors.As(wrapped, &storageErr) {
		t.Fatal("wrapped error is not a *StorageError")
	}
	if storageErr.Op != "read" {
		t.Errorf("Op = %q, want read", storageErr.Op)
	}
	if !errors.Is(storageErr.Unwrap(), underlying) {
		t.Error("Unwrap does not return the underlying error")
	}
}

func TestWrapWriteError_Nil(t *testing.T) {
	if err := WrapWriteError(nil, "path"); err != nil {
		t.Errorf("WrapWriteError(nil) = %v, want nil", err)
	}
	if err := WrapReadError(nil, "path"); err != nil {
		t.Errorf("WrapReadError(nil) = %v, want nil", err)
	}
}

func TestStorageError_Message(t *testing.T) {
	err := NewStorageError(ErrNotFound, "read", "s3://b/k", fmt.Errorf("boom"))
	msg := err.Error()
	for _, want := range []string{"read", "s3://b/k", "not found", "boom"} {
		if !containsAny(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
