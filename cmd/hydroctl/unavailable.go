package main

import (
	"context"

	"github.com/dyadov103/home-hydroponics/internal/store"
	apperrors "github.com/dyadov103/home-hydroponics/pkg/errors"
)

// unavailable stands in for a dependency the current command did not connect.
type unavailable struct{}

func (unavailable) Publish(context.Context, string, []byte) error {
	return apperrors.ErrServiceUnavailable.WithDetail("message", "broker not connected")
}

func (unavailable) Close() error { return nil }

func (unavailable) CountRows(context.Context, string) (int64, error) {
	return 0, apperrors.ErrServiceUnavailable.WithDetail("message", "database not connected")
}

func (unavailable) CheckAndCreate(context.Context) []store.TableReport {
	return nil
}
