// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vsensor

//go:generate mockgen -destination=mocks/transport.go -package=mocks github.com/Thermoquad/vsensor/pkg/vsensor Transport

// Transport performs the request/response exchange with the device. Addresses
// are zero-indexed wire addresses. Implementations report a missing answer as
// ErrNoResponse (or a net.Error timeout) and a device rejection as
// *ExceptionError; a short register slice is returned as-is, not as an error.
type Transport interface {
	ReadHoldingRegisters(address, count uint16) ([]uint16, error)
	WriteRegister(address, value uint16) error
	WriteRegisters(address uint16, values []uint16) error
	Close() error
}
