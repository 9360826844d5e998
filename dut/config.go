// Copyright 2023 The go-pix Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dut

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Option configures the loading of a topology document.
type Option func(*loadOpts)

type loadOpts struct {
	factories map[string]TransportFunc
	instances map[string]Transport
}

// WithTransportKind registers the constructor used for transports of
// the given kind (the "type" key of the transfer_layer section).
func WithTransportKind(kind string, fn TransportFunc) Option {
	return func(o *loadOpts) {
		o.factories[kind] = fn
	}
}

// WithTransports registers constructors for several transport kinds
// at once.
func WithTransports(fns map[string]TransportFunc) Option {
	return func(o *loadOpts) {
		for kind, fn := range fns {
			o.factories[kind] = fn
		}
	}
}

// WithTransport binds an already-built transport to the named
// transfer_layer entry, bypassing the kind factories. Used to
// inject test doubles.
func WithTransport(name string, tr Transport) Option {
	return func(o *loadOpts) {
		o.instances[name] = tr
	}
}

// topology document, as authored.
type rawConfig struct {
	Name       string         `yaml:"name"`
	Version    string         `yaml:"version"`
	Transports []rawTransport `yaml:"transfer_layer"`
	Drivers    []rawDriver    `yaml:"hw_drivers"`
	Registers  []rawRegister  `yaml:"registers"`
}

type rawTransport struct {
	Name string         `yaml:"name"`
	Type string         `yaml:"type"`
	Init map[string]any `yaml:"init"`
}

type rawDriver struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Interface string `yaml:"interface"`
	BaseAddr  intval `yaml:"base_addr"`
	Size      int    `yaml:"size"`
}

type rawRegister struct {
	Name   string     `yaml:"name"`
	Type   string     `yaml:"type"`
	Driver string     `yaml:"hw_driver"`
	Size   int        `yaml:"size"`
	Fields []rawField `yaml:"fields"`
}

type rawField struct {
	Name   string     `yaml:"name"`
	Offset int        `yaml:"offset"`
	Size   int        `yaml:"size"`
	Repeat *int       `yaml:"repeat"`
	Fields []rawField `yaml:"fields"`
}

// intval decodes an unsigned integer authored either as a YAML
// integer (decimal or 0x-hexadecimal) or as a quoted "0x..." string.
type intval uint64

func (v *intval) UnmarshalYAML(node *yaml.Node) error {
	var u uint64
	if err := node.Decode(&u); err == nil {
		*v = intval(u)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("dut: invalid integer value %q: %w", node.Value, ErrConfig)
	}
	u, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return fmt.Errorf("dut: could not parse integer %q: %w", s, err)
	}
	*v = intval(u)
	return nil
}

// LoadFile loads and resolves the topology document fname.
func LoadFile(fname string, opts ...Option) (*Session, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("dut: could not open topology %q: %w", fname, err)
	}
	defer f.Close()

	ses, err := Load(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("dut: could not load topology %q: %w", fname, err)
	}
	return ses, nil
}

// Load decodes, validates and resolves a topology document into a
// Session. Configuration errors are fatal: no Session is produced
// from a partially valid layout.
func Load(r io.Reader, opts ...Option) (*Session, error) {
	opt := loadOpts{
		factories: make(map[string]TransportFunc),
		instances: make(map[string]Transport),
	}
	for _, o := range opts {
		o(&opt)
	}

	var raw rawConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("dut: could not decode topology: %w", err)
	}

	ses := &Session{
		name:        raw.Name,
		version:     raw.Version,
		itransports: make(map[string]int, len(raw.Transports)),
		idrivers:    make(map[string]int, len(raw.Drivers)),
		iregisters:  make(map[string]int, len(raw.Registers)),
	}

	for _, rt := range raw.Transports {
		if err := checkName("transport", rt.Name); err != nil {
			return nil, err
		}
		if _, dup := ses.itransports[rt.Name]; dup {
			return nil, &DuplicateNameError{Kind: "transport", Name: rt.Name}
		}
		spec := TransportSpec{Name: rt.Name, Kind: rt.Type, Init: rt.Init}
		ses.itransports[rt.Name] = len(ses.specs)
		ses.specs = append(ses.specs, spec)
	}

	for _, rd := range raw.Drivers {
		if err := checkName("driver", rd.Name); err != nil {
			return nil, err
		}
		if _, dup := ses.idrivers[rd.Name]; dup {
			return nil, &DuplicateNameError{Kind: "driver", Name: rd.Name}
		}
		if rd.BaseAddr > intval(^uint32(0)) {
			return nil, fmt.Errorf(
				"dut: driver %q: base address 0x%x exceeds the device address space: %w",
				rd.Name, uint64(rd.BaseAddr), ErrConfig,
			)
		}
		ses.idrivers[rd.Name] = len(ses.drivers)
		ses.drivers = append(ses.drivers, Driver{
			Name:      rd.Name,
			Kind:      rd.Type,
			Interface: rd.Interface,
			BaseAddr:  uint32(rd.BaseAddr),
			Size:      rd.Size,
		})
	}

	for _, rr := range raw.Registers {
		if err := checkName("register", rr.Name); err != nil {
			return nil, err
		}
		if _, dup := ses.iregisters[rr.Name]; dup {
			return nil, &DuplicateNameError{Kind: "register", Name: rr.Name}
		}
		fields, err := convFields(rr.Name, rr.Fields)
		if err != nil {
			return nil, err
		}
		ses.iregisters[rr.Name] = len(ses.registers)
		ses.registers = append(ses.registers, &Register{
			Name:   rr.Name,
			Kind:   rr.Type,
			Driver: rr.Driver,
			Width:  rr.Size,
			Fields: fields,
		})
	}

	// resolve name references to indices, reporting every dangling
	// name at once.
	var dangling []Ref
	for i := range ses.drivers {
		drv := &ses.drivers[i]
		itr, ok := ses.itransports[drv.Interface]
		if !ok {
			dangling = append(dangling, Ref{
				From: "driver " + drv.Name,
				Kind: "transport",
				Name: drv.Interface,
			})
			continue
		}
		drv.itr = itr
	}
	for _, reg := range ses.registers {
		idrv, ok := ses.idrivers[reg.Driver]
		if !ok {
			dangling = append(dangling, Ref{
				From: "register " + reg.Name,
				Kind: "driver",
				Name: reg.Driver,
			})
			continue
		}
		reg.idrv = idrv
	}
	if len(dangling) > 0 {
		return nil, &DanglingReferenceError{Refs: dangling}
	}

	// resolve field layouts.
	for _, reg := range ses.registers {
		if reg.Width <= 0 {
			if len(reg.Fields) == 0 {
				return nil, fmt.Errorf(
					"dut: register %q: no size and no fields: %w",
					reg.Name, ErrConfig,
				)
			}
			reg.Width = extent(reg.Fields)
		}
		lay, err := resolveLayout(reg.Name, reg.Width, reg.Fields)
		if err != nil {
			return nil, err
		}
		reg.layout = lay

		drv := &ses.drivers[reg.idrv]
		if drv.Size > 0 && reg.NBytes() > drv.Size {
			return nil, &OutOfRangeError{
				Register: reg.Name,
				Width:    reg.Width,
				Limit:    8 * drv.Size,
			}
		}
	}

	// bind transports.
	for _, spec := range ses.specs {
		tr, ok := opt.instances[spec.Name]
		if !ok {
			fn, ok := opt.factories[spec.Kind]
			if !ok {
				return nil, fmt.Errorf(
					"dut: transport %q: no factory for kind %q: %w",
					spec.Name, spec.Kind, ErrConfig,
				)
			}
			var err error
			tr, err = fn(spec)
			if err != nil {
				return nil, fmt.Errorf(
					"dut: could not build transport %q (kind=%q): %w",
					spec.Name, spec.Kind, err,
				)
			}
		}
		ses.transports = append(ses.transports, tr)
	}
	ses.mus = make([]sync.Mutex, len(ses.transports))

	return ses, nil
}

func convFields(reg string, raw []rawField) ([]Field, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	fields := make([]Field, 0, len(raw))
	for _, rf := range raw {
		if err := checkName("field", rf.Name); err != nil {
			return nil, err
		}
		repeat := 1
		if rf.Repeat != nil {
			repeat = *rf.Repeat
		}
		children, err := convFields(reg, rf.Fields)
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{
			Name:     rf.Name,
			Offset:   rf.Offset,
			Width:    rf.Size,
			Repeat:   repeat,
			Children: children,
		})
	}
	return fields, nil
}

func checkName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("dut: missing %s name: %w", kind, ErrConfig)
	}
	if strings.ContainsAny(name, ".[] \t\n") {
		return fmt.Errorf("dut: invalid %s name %q: %w", kind, name, ErrConfig)
	}
	return nil
}
