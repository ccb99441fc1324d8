package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrStore is wrapped by every error the store returns
	ErrStore = errors.New("store error")
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = fmt.Errorf("%w: record not found", ErrStore)
)

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStore) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
