package source

import (
	"fmt"

	"VNPriceCache/internal/config"
)

// New builds the adapter named in sc.
func New(sc config.SourceConfig, proxyURL string, opts ...Option) (Source, error) {
	switch sc.Name {
	case "vci":
		return NewVCI(sc, proxyURL, opts...), nil
	case "tcbs":
		return NewTCBS(sc, proxyURL, opts...), nil
	case "mock":
		return NewMock("mock", 50000), nil
	default:
		return nil, fmt.Errorf("unknown source %q", sc.Name)
	}
}
