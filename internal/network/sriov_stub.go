//go:build !linux
// +build !linux

package network

// SriovProbe is a stub implementation of reconcile.SriovChecker.
type SriovProbe struct{}

func NewSriovProbe(SystemController) *SriovProbe { return &SriovProbe{} }

func (p *SriovProbe) CheckSriov(string, uint32) error { return errNoNetlink }
