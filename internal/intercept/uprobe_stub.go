//go:build !linux

package intercept

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// UprobePrimitive is a stub on non-Linux platforms; Start errors.
type UprobePrimitive struct {
	log logrus.FieldLogger
}

var (
	_ Primitive = (*UprobePrimitive)(nil)
	_ Runner    = (*UprobePrimitive)(nil)
)

// NewUprobePrimitive creates the stub primitive.
func NewUprobePrimitive(
	log logrus.FieldLogger,
	_ UprobeConfig,
) (*UprobePrimitive, error) {
	return &UprobePrimitive{
		log: log.WithField("component", "uprobe"),
	}, nil
}

func (p *UprobePrimitive) Attach(
	_ TargetDescriptor,
	_ BeforeCall,
) error {
	return nil
}

func (p *UprobePrimitive) Start(_ context.Context) error {
	return fmt.Errorf("uprobe interception requires Linux")
}

func (p *UprobePrimitive) Stop() error {
	return nil
}
