package homekit

import (
	"context"

	"github.com/brutella/hc"
	"github.com/brutella/hc/accessory"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Name        string
	Pin         string
	StoragePath string
	Port        string
}

// Serve publishes the coverings behind one bridge accessory and blocks until
// ctx is done.
func Serve(ctx context.Context, cfg Config, coverings []*WindowCovering) error {
	if len(coverings) == 0 {
		return errors.New("homekit: no window coverings to publish")
	}

	bridge := accessory.NewBridge(accessory.Info{
		Name:         cfg.Name,
		Manufacturer: Manufacturer,
		Model:        "slidebridge",
		SerialNumber: SerialNumber("bridge/" + cfg.Name).String(),
	})

	accessories := make([]*accessory.Accessory, 0, len(coverings))
	for _, c := range coverings {
		accessories = append(accessories, c.Accessory)
	}

	t, err := hc.NewIPTransport(hc.Config{
		Pin:         cfg.Pin,
		StoragePath: cfg.StoragePath,
		Port:        cfg.Port,
	}, bridge.Accessory, accessories...)
	if err != nil {
		return errors.Wrap(err, "homekit: transport")
	}

	go func() {
		<-ctx.Done()
		<-t.Stop()
		logrus.Info("HomeKit transport stopped")
	}()

	logrus.Infof("HomeKit bridge %q published with %d window coverings", cfg.Name, len(coverings))
	t.Start()

	return nil
}
