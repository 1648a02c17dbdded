package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// ModuleMarket is the pause key shared by the trading entry points.
const ModuleMarket = "market"

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
