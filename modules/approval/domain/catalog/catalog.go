// Package catalog is the module table: which draft and approved containers
// each approval module replicates between.
package catalog

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/EyeSeeTea/data-approval-dev-sub000/modules/approval/domain/records"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/serrors"
)

type Kind string

const (
	KindAggregate Kind = "aggregate"
	KindTracker   Kind = "tracker"
	KindEvent     Kind = "event"
)

var (
	ErrUnknownModule = serrors.NewError("APPROVAL_UNKNOWN_MODULE", "unknown approval module", "Approval.Errors.UnknownModule")
	ErrInvalid       = serrors.NewError("APPROVAL_INVALID_CATALOG", "invalid module catalog", "")
)

// ContainerPair names a draft container and its approved counterpart.
type ContainerPair struct {
	Draft    string `yaml:"draft" json:"draft"`
	Approved string `yaml:"approved" json:"approved"`
}

type ProgramPair struct {
	ContainerPair `yaml:",inline"`
	// Lists events of descendant org units as well.
	WideScope bool `yaml:"wideScope" json:"wideScope"`
	// Draft stages eligible for replication; empty means every mapped stage.
	Stages []string `yaml:"stages" json:"stages,omitempty"`
}

type Module struct {
	Name               string        `yaml:"name" json:"name"`
	Kind               Kind          `yaml:"kind" json:"kind"`
	DataSet            ContainerPair `yaml:"dataSet" json:"dataSet"`
	Programs           []ProgramPair `yaml:"programs" json:"programs,omitempty"`
	NotificationGroups []string      `yaml:"notificationGroups" json:"notificationGroups,omitempty"`
	// Groups whose members may act on any org unit.
	AdminGroups []string `yaml:"adminGroups" json:"adminGroups,omitempty"`
}

// RecordKind is the source record shape replicated for the module.
func (m Module) RecordKind() records.Kind {
	switch m.Kind {
	case KindTracker:
		return records.KindEntity
	case KindEvent:
		return records.KindEvent
	default:
		return records.KindAggregate
	}
}

func (m Module) validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: module without name", ErrInvalid)
	}
	switch m.Kind {
	case KindAggregate:
		if m.DataSet.Draft == "" || m.DataSet.Approved == "" {
			return fmt.Errorf("%w: module %s needs draft and approved data sets", ErrInvalid, m.Name)
		}
	case KindTracker, KindEvent:
		if len(m.Programs) == 0 {
			return fmt.Errorf("%w: module %s needs at least one program pair", ErrInvalid, m.Name)
		}
		for _, p := range m.Programs {
			if p.Draft == "" || p.Approved == "" {
				return fmt.Errorf("%w: module %s has an incomplete program pair", ErrInvalid, m.Name)
			}
		}
	default:
		return fmt.Errorf("%w: module %s has unknown kind %q", ErrInvalid, m.Name, m.Kind)
	}
	return nil
}

type Catalog struct {
	modules map[string]Module
}

type file struct {
	Modules []Module `yaml:"modules"`
}

func New(modules ...Module) (*Catalog, error) {
	c := &Catalog{modules: make(map[string]Module, len(modules))}
	for _, m := range modules {
		if err := m.validate(); err != nil {
			return nil, err
		}
		key := strings.ToUpper(m.Name)
		if _, dup := c.modules[key]; dup {
			return nil, fmt.Errorf("%w: duplicate module %s", ErrInvalid, m.Name)
		}
		c.modules[key] = m
	}
	return c, nil
}

func Parse(r io.Reader) (*Catalog, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return New(f.Modules...)
}

func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Lookup finds a module by name, case-insensitively.
func (c *Catalog) Lookup(name string) (Module, error) {
	m, ok := c.modules[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Module{}, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
	return m, nil
}

// Modules returns every module sorted by name.
func (c *Catalog) Modules() []Module {
	out := make([]Module, 0, len(c.modules))
	for _, m := range c.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
