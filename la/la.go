// Package la holds the distributed linear algebra containers used by the
// assembler: index maps with ghost exchange, vectors and sparse matrices in
// single, monolithic block and nested layouts.
package la

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

var (
	ErrAlreadyFinalized = errors.New("la: vector ghost contributions already accumulated")
	ErrNotFinalized     = errors.New("la: vector holds unaccumulated local contributions")
	ErrMixedInsertMode  = errors.New("la: add and insert mixed without an intermediate flush")
	ErrDestroyed        = errors.New("la: container used after Destroy")
	ErrKind             = errors.New("la: operation not valid for container kind")
)

// Kind selects how a multi-field system is laid out in memory
type Kind uint8

const (
	Single Kind = iota // one field, one container
	Block              // all fields stacked into one container
	Nest               // one sub-container per field
)

func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case Block:
		return "block"
	case Nest:
		return "nest"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind accepts the container kind names used in configuration files.
// "mpi" is accepted as an alias of Block.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "single", "":
		return Single, nil
	case "block", "mpi":
		return Block, nil
	case "nest":
		return Nest, nil
	}
	return Single, fmt.Errorf("unknown container kind %q: %w", s, ErrKind)
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

var openHandles atomic.Int64

// OpenHandles reports the number of vectors and matrices created and not yet
// destroyed.
func OpenHandles() int {
	return int(openHandles.Load())
}
