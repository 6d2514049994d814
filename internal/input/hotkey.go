package input

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.design/x/hotkey"
)

// Binding maps a combo such as "ctrl+alt+s" to an action.
type Binding struct {
	Name   string
	Combo  string
	Action func()
}

// Hotkeys owns the registered global hotkeys and their listener goroutines.
type Hotkeys struct {
	log    *slog.Logger
	keys   []*hotkey.Hotkey
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartHotkeys registers every binding with a non-empty combo. A binding
// that fails to parse or register is logged and skipped.
func StartHotkeys(ctx context.Context, bindings []Binding, log *slog.Logger) *Hotkeys {
	ctx, cancel := context.WithCancel(ctx)
	h := &Hotkeys{
		log:    log.With(slog.String("component", "hotkeys")),
		cancel: cancel,
	}
	for _, b := range bindings {
		if strings.TrimSpace(b.Combo) == "" || b.Action == nil {
			continue
		}
		mods, key, err := parseHotkey(b.Combo)
		if err != nil {
			h.log.Warn("invalid hotkey", slog.String("action", b.Name), slog.String("combo", b.Combo), slog.String("error", err.Error()))
			continue
		}
		hk := hotkey.New(mods, key)
		if err := hk.Register(); err != nil {
			h.log.Warn("failed to register hotkey", slog.String("action", b.Name), slog.String("combo", b.Combo), slog.String("error", err.Error()))
			continue
		}
		h.keys = append(h.keys, hk)
		h.wg.Add(1)
		go h.listen(ctx, hk, b)
		h.log.Info("hotkey registered", slog.String("action", b.Name), slog.String("combo", b.Combo))
	}
	return h
}

func (h *Hotkeys) listen(ctx context.Context, hk *hotkey.Hotkey, b Binding) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-hk.Keydown():
			if !ok {
				return
			}
			h.log.Debug("hotkey pressed", slog.String("action", b.Name))
			b.Action()
		}
	}
}

// Registered returns how many bindings are active.
func (h *Hotkeys) Registered() int { return len(h.keys) }

func (h *Hotkeys) Close() {
	h.cancel()
	for _, hk := range h.keys {
		_ = hk.Unregister()
	}
	h.wg.Wait()
}

// parseHotkey parses a combo like "ctrl+shift+space" into modifiers and key.
func parseHotkey(s string) ([]hotkey.Modifier, hotkey.Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, 0, errors.New("empty hotkey string")
	}

	var mods []hotkey.Modifier
	var key hotkey.Key
	var keyFound bool

	for _, part := range strings.Split(strings.ToLower(s), "+") {
		part = strings.TrimSpace(part)
		switch part {
		case "ctrl", "control":
			mods = append(mods, hotkey.ModCtrl)
		case "shift":
			mods = append(mods, hotkey.ModShift)
		case "alt", "option":
			mods = append(mods, modAlt())
		case "cmd", "command", "super", "win":
			mods = append(mods, modSuper())
		default:
			if keyFound {
				return nil, 0, errors.New("multiple keys specified")
			}
			k, ok := keyNames[part]
			if !ok {
				return nil, 0, fmt.Errorf("unknown key: %q", part)
			}
			key = k
			keyFound = true
		}
	}

	if !keyFound {
		return nil, 0, errors.New("no key specified")
	}
	return mods, key, nil
}

var keyNames = map[string]hotkey.Key{
	"space": hotkey.KeySpace, "return": hotkey.KeyReturn, "enter": hotkey.KeyReturn,
	"tab": hotkey.KeyTab, "escape": hotkey.KeyEscape, "esc": hotkey.KeyEscape,
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
}
