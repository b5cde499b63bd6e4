package config

import (
	"github.com/knadh/koanf/providers/file"
	"github.com/spf13/pflag"
)

// Watcher reloads the settings file whenever it changes on disk.
type Watcher struct {
	fp *file.File
}

// Watch calls fn with the reloaded settings after every change to path.
// Flags are re-applied on each reload so they keep taking precedence.
func Watch(path string, flags *pflag.FlagSet, fn func(*Config, error)) (*Watcher, error) {
	fp := file.Provider(path)
	err := fp.Watch(func(_ interface{}, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(Load(path, flags))
	})
	if err != nil {
		return nil, err
	}
	return &Watcher{fp: fp}, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fp.Unwatch()
}
