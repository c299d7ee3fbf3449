package broker

import (
	"fmt"
	"strings"
)

// SupportedBrokers список поддерживаемых брокеров
var SupportedBrokers = []string{"alpaca", "paper"}

// Options параметры создания брокера
type Options struct {
	Name      string
	Alpaca    AlpacaConfig
	PaperCash float64
	HTTP      *HTTPClient
}

// NewBroker создаёт брокера по имени
func NewBroker(opts Options) (Broker, error) {
	switch strings.ToLower(opts.Name) {
	case "alpaca":
		if opts.Alpaca.APIKey == "" || opts.Alpaca.APISecret == "" {
			return nil, fmt.Errorf("alpaca: api key and secret are required")
		}
		return NewAlpaca(opts.Alpaca, opts.HTTP), nil
	case "paper":
		return NewPaper(opts.PaperCash), nil
	default:
		return nil, fmt.Errorf("unsupported broker: %s", opts.Name)
	}
}

// IsSupported поддерживается ли брокер
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedBrokers {
		if name == supported {
			return true
		}
	}
	return false
}
