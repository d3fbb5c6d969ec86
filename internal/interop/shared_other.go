//go:build !((darwin || linux) && (amd64 || arm64))

package interop

import (
	"errors"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// sharedLib 此平台不支持加载共享库，只能使用注册的宿主库
type sharedLib struct {
	path string
}

var errNoLoader = errors.New("native library loading is not supported on this platform")

func openShared(path string) (*sharedLib, error) {
	return nil, errNoLoader
}

func (l *sharedLib) bind(m *meta.Method, symbol string) (HostFunc, error) {
	return nil, errorf(m, diag.N0002, "symbol %q not found in %s", symbol, l.path)
}
