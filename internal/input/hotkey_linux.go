//go:build linux

package input

import "golang.design/x/hotkey"

// Alt is Mod1 under X11.
func modAlt() hotkey.Modifier {
	return hotkey.Mod1
}

func modSuper() hotkey.Modifier {
	return hotkey.Mod4
}
