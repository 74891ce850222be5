// Package dis implements the Device Information Service. Every field is a
// read-only string looked up in an identity store on each read.
package dis

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesvc/internal/gatt"
)

const (
	ServiceUUID = "180a"

	// DefaultMaxLen bounds every field value.
	DefaultMaxLen = 64
)

// IdentityStore resolves identity keys such as "id/serial".
type IdentityStore interface {
	Lookup(key string) (string, bool)
}

// MapStore is an IdentityStore backed by a map.
type MapStore map[string]string

// Lookup implements IdentityStore.
func (m MapStore) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Field binds a characteristic to an identity key.
type Field struct {
	UUID string
	Name string
	Key  string
}

// Fields lists the published characteristics in table order.
var Fields = []Field{
	{UUID: "2a23", Name: "System ID", Key: "id/hwid"},
	{UUID: "2a24", Name: "Model Number String", Key: "id/app"},
	{UUID: "2a25", Name: "Serial Number String", Key: "id/serial"},
	{UUID: "2a26", Name: "Firmware Revision String", Key: "id/app"},
	{UUID: "2a27", Name: "Hardware Revision String", Key: "id/bsp"},
	{UUID: "2a28", Name: "Software Revision String", Key: "id/app"},
	{UUID: "2a29", Name: "Manufacturer Name String", Key: "id/mfghash"},
}

// Options configures the service.
type Options struct {
	MaxLen int
	Logger *logrus.Logger
}

// Service is a registered Device Information Service.
type Service struct {
	rt     *gatt.Runtime
	store  IdentityStore
	maxLen int
	logger *logrus.Logger
	table  *gatt.ServiceTable
}

// New loads every field from store and registers the service with rt.
// A nil store publishes empty strings.
func New(rt *gatt.Runtime, store IdentityStore, opts *Options) (*Service, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.MaxLen <= 0 {
		o.MaxLen = DefaultMaxLen
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetOutput(io.Discard)
	}

	s := &Service{
		rt:     rt,
		store:  store,
		maxLen: o.MaxLen,
		logger: o.Logger,
	}

	chars := make([]gatt.Descriptor, 0, len(Fields))
	for _, f := range Fields {
		chars = append(chars, gatt.Descriptor{
			UUID:    f.UUID,
			Name:    f.Name,
			Access:  gatt.Readable,
			MinLen:  0,
			MaxLen:  o.MaxLen,
			Initial: s.value(f),
			OnRead: func() ([]byte, error) {
				return s.value(f), nil
			},
		})
	}
	s.table = gatt.NewServiceTable(ServiceUUID, "Device Information", chars...)
	if err := rt.Register(s.table); err != nil {
		return nil, fmt.Errorf("failed to register device information service: %w", err)
	}
	return s, nil
}

// Refresh reloads every field from the identity store into the cells, for
// host stacks that serve reads without calling back.
func (s *Service) Refresh() error {
	for _, f := range Fields {
		if err := s.rt.Set(s.table.Ref(f.UUID), s.value(f)); err != nil {
			return err
		}
	}
	return nil
}

// Ref returns the characteristic of the field with uuid.
func (s *Service) Ref(uuid string) gatt.Ref {
	return s.table.Ref(uuid)
}

func (s *Service) value(f Field) []byte {
	if s.store == nil {
		return []byte{}
	}
	v, ok := s.store.Lookup(f.Key)
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"char": f.UUID,
			"key":  f.Key,
		}).Debug("Identity key not set")
		return []byte{}
	}
	if len(v) > s.maxLen {
		s.logger.WithFields(logrus.Fields{
			"char":   f.UUID,
			"length": len(v),
		}).Warn("Identity value truncated")
		cut := s.maxLen
		for cut > 0 && !utf8.RuneStart(v[cut]) {
			cut--
		}
		v = v[:cut]
	}
	return []byte(v)
}
