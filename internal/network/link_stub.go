//go:build !linux
// +build !linux

package network

// LinkManager is a stub implementation of LinkInfoReader.
type LinkManager struct{}

// NewLinkManager always fails off linux.
func NewLinkManager(SystemController) (*LinkManager, error) { return nil, errNoNetlink }

func (lm *LinkManager) Close() {}

func (lm *LinkManager) PermAddr(string) (string, error) { return "", errNoNetlink }

func (lm *LinkManager) GetLinkInfo(string) (*LinkInfo, error) { return nil, errNoNetlink }
