//go:build !windows

package engine

import (
	"context"
	"errors"
)

// ErrAutomationUnsupported is returned where no native automation server exists.
var ErrAutomationUnsupported = errors.New("engine: COM automation requires windows")

type COMAutomation struct{}

func NewCOMAutomation() *COMAutomation {
	return &COMAutomation{}
}

func (COMAutomation) Start(context.Context) (Application, error) {
	return nil, ErrAutomationUnsupported
}
