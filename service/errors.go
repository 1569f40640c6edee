package service

import (
	"errors"

	"github.com/ngaboserge/capitallab-simulator-sub003/domain/orderbook"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrInvalidOrder  = orderbook.ErrInvalidOrder
	// ErrDuplicateOrder is returned wrapped together with ErrInvalidOrder.
	ErrDuplicateOrder = orderbook.ErrDuplicateOrder
	ErrJournal        = errors.New("journal append failed")
	ErrInvalidConfig  = errors.New("invalid exchange config")
)
