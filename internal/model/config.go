package model

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed yolov8.yaml
var defaultYAML []byte

// DefaultScale is used when a config has scales but none is selected.
const DefaultScale = "n"

// Config is a model architecture file in the ultralytics layout.
type Config struct {
	// NC is the number of classes.
	NC int `yaml:"nc"`

	// Scales maps a scale name to [depth, width, max_channels].
	Scales map[string][]float64 `yaml:"scales"`

	// Scale selects an entry of Scales.
	Scale string `yaml:"scale,omitempty"`

	// DepthMultiple and WidthMultiple are used by configs without Scales.
	DepthMultiple float64 `yaml:"depth_multiple,omitempty"`
	WidthMultiple float64 `yaml:"width_multiple,omitempty"`

	// Channels is the number of input channels (3 when unset).
	Channels int `yaml:"ch,omitempty"`

	Backbone []LayerSpec `yaml:"backbone"`
	Head     []LayerSpec `yaml:"head"`

	// Names are the class names, indexed by class id.
	Names Names `yaml:"names,omitempty"`
}

// LayerSpec is one [from, repeats, module, args] row.
type LayerSpec struct {
	From    []int
	Repeats int
	Module  string
	Args    []any
}

// UnmarshalYAML decodes a [from, repeats, module, args] sequence. from may be
// a single index or a list of indices.
func (l *LayerSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode || len(value.Content) != 4 {
		return fmt.Errorf("%w: line %d: layer must be [from, repeats, module, args]", ErrInvalidConfig, value.Line)
	}
	from, repeats, module, args := value.Content[0], value.Content[1], value.Content[2], value.Content[3]

	switch from.Kind {
	case yaml.ScalarNode:
		var f int
		if err := from.Decode(&f); err != nil {
			return fmt.Errorf("%w: line %d: from: %v", ErrInvalidConfig, from.Line, err)
		}
		l.From = []int{f}
	case yaml.SequenceNode:
		if err := from.Decode(&l.From); err != nil {
			return fmt.Errorf("%w: line %d: from: %v", ErrInvalidConfig, from.Line, err)
		}
	default:
		return fmt.Errorf("%w: line %d: from must be an index or a list", ErrInvalidConfig, from.Line)
	}

	if err := repeats.Decode(&l.Repeats); err != nil {
		return fmt.Errorf("%w: line %d: repeats: %v", ErrInvalidConfig, repeats.Line, err)
	}
	if err := module.Decode(&l.Module); err != nil {
		return fmt.Errorf("%w: line %d: module: %v", ErrInvalidConfig, module.Line, err)
	}
	if err := args.Decode(&l.Args); err != nil {
		return fmt.Errorf("%w: line %d: args: %v", ErrInvalidConfig, args.Line, err)
	}
	return nil
}

// MarshalYAML encodes the layer back to the row form.
func (l LayerSpec) MarshalYAML() (any, error) {
	var from any = l.From
	if len(l.From) == 1 {
		from = l.From[0]
	}
	args := l.Args
	if args == nil {
		args = []any{}
	}
	return []any{from, l.Repeats, l.Module, args}, nil
}

// Names holds class names. It decodes from a list or from an id -> name map.
type Names []string

// UnmarshalYAML accepts both [person, bicycle, ...] and {0: person, 1: bicycle, ...}.
func (n *Names) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*n = list
	case yaml.MappingNode:
		var m map[int]string
		if err := value.Decode(&m); err != nil {
			return err
		}
		size := 0
		for id := range m {
			if id < 0 {
				return fmt.Errorf("%w: negative class id %d", ErrInvalidConfig, id)
			}
			size = max(size, id+1)
		}
		if len(m) != size {
			for id := 0; id < size; id++ {
				if _, ok := m[id]; !ok {
					return fmt.Errorf("%w: line %d: no name for class id %d", ErrInvalidConfig, value.Line, id)
				}
			}
		}
		list := make([]string, size)
		for id, name := range m {
			list[id] = name
		}
		*n = list
	default:
		return fmt.Errorf("%w: line %d: names must be a list or a map", ErrInvalidConfig, value.Line)
	}
	return nil
}

// DefaultConfig returns the built-in YOLOv8 detection config at scale n.
func DefaultConfig() *Config {
	cfg, err := ParseConfig(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("model: embedded config: %v", err))
	}
	return cfg
}

// LoadConfig reads a model config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes and validates a model config.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse model config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal encodes the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal model config: %w", err)
	}
	return data, nil
}

// Validate checks the fields the builder relies on.
func (c *Config) Validate() error {
	if c.NC <= 0 {
		return fmt.Errorf("%w: nc must be positive, got %d", ErrInvalidConfig, c.NC)
	}
	if c.Channels < 0 {
		return fmt.Errorf("%w: ch must be positive, got %d", ErrInvalidConfig, c.Channels)
	}
	for name, s := range c.Scales {
		if len(s) != 3 {
			return fmt.Errorf("%w: scale %q must be [depth, width, max_channels]", ErrInvalidConfig, name)
		}
		if s[0] <= 0 || s[1] <= 0 || s[2] <= 0 {
			return fmt.Errorf("%w: scale %q has non-positive entries", ErrInvalidConfig, name)
		}
	}
	if len(c.Backbone) == 0 {
		return fmt.Errorf("%w: empty backbone", ErrInvalidConfig)
	}
	if len(c.Names) > 0 && len(c.Names) != c.NC {
		return fmt.Errorf("%w: %d names for %d classes", ErrInvalidConfig, len(c.Names), c.NC)
	}
	if _, _, _, err := c.Multiples(); err != nil {
		return err
	}
	return nil
}

// WithScale returns a copy of the config using the named scale.
func (c *Config) WithScale(scale string) *Config {
	out := c.clone()
	out.Scale = scale
	return out
}

// WithClasses returns a copy of the config with nc classes. Names are
// dropped if their count no longer matches.
func (c *Config) WithClasses(nc int) *Config {
	out := c.clone()
	out.NC = nc
	if len(out.Names) != nc {
		out.Names = nil
	}
	return out
}

// ScaleNames returns the available scales in sorted order.
func (c *Config) ScaleNames() []string {
	names := make([]string, 0, len(c.Scales))
	for name := range c.Scales {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Multiples returns the depth and width multiples and the channel cap for
// the selected scale.
func (c *Config) Multiples() (depth, width float64, maxChannels int, err error) {
	if len(c.Scales) == 0 {
		depth, width = c.DepthMultiple, c.WidthMultiple
		if depth == 0 {
			depth = 1
		}
		if width == 0 {
			width = 1
		}
		return depth, width, 0, nil
	}

	scale := c.ScaleName()
	s, ok := c.Scales[scale]
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q (available: %v)", ErrUnknownScale, scale, c.ScaleNames())
	}
	return s[0], s[1], int(s[2]), nil
}

// ScaleName returns the selected scale, defaulting to n when present and
// to the first scale otherwise. Configs without scales return "".
func (c *Config) ScaleName() string {
	if c.Scale != "" || len(c.Scales) == 0 {
		return c.Scale
	}
	if _, ok := c.Scales[DefaultScale]; ok {
		return DefaultScale
	}
	return c.ScaleNames()[0]
}

// InputChannels returns ch, or 3 when unset.
func (c *Config) InputChannels() int {
	if c.Channels == 0 {
		return 3
	}
	return c.Channels
}

// ClassNames returns Names, or class0..classN-1 when unset.
func (c *Config) ClassNames() []string {
	if len(c.Names) == c.NC {
		return slices.Clone(c.Names)
	}
	names := make([]string, c.NC)
	for i := range names {
		names[i] = fmt.Sprintf("class%d", i)
	}
	return names
}

// Layers returns backbone followed by head.
func (c *Config) Layers() []LayerSpec {
	return append(slices.Clone(c.Backbone), c.Head...)
}

func (c *Config) clone() *Config {
	out := *c
	out.Scales = make(map[string][]float64, len(c.Scales))
	for k, v := range c.Scales {
		out.Scales[k] = slices.Clone(v)
	}
	out.Backbone = slices.Clone(c.Backbone)
	out.Head = slices.Clone(c.Head)
	out.Names = slices.Clone(c.Names)
	return &out
}
