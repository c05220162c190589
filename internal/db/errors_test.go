package db

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatalf("nil must stay nil")
	}

	locked := errors.New("database is locked (5) (SQLITE_BUSY)")
	var transient *StoreTransientError
	if !errors.As(Classify(locked), &transient) {
		t.Fatalf("expected lock contention to classify as transient")
	}
	if !IsTransient(transient) {
		t.Fatalf("transient wrapper must stay transient")
	}

	broken := errors.New("no such table: observation")
	var fatal *StoreFatalError
	if !errors.As(Classify(broken), &fatal) {
		t.Fatalf("expected schema error to classify as fatal")
	}
	if !errors.Is(Classify(broken), broken) {
		t.Fatalf("classification must preserve the wrapped error")
	}
}
