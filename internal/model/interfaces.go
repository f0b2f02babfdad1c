package model

import (
	"github.com/mitchellh/copystructure"
	"gopkg.in/yaml.v2"

	"grimm.is/netstate/internal/errors"
)

type ifaceKey struct {
	name string
	typ  InterfaceType // empty for kernel interfaces
}

func keyOf(iface Interface) ifaceKey {
	b := iface.Base()
	if b.Type.IsUserspace() {
		return ifaceKey{name: b.Name, typ: b.Type}
	}
	return ifaceKey{name: b.Name}
}

// Interfaces is an ordered collection split into kernel interfaces, unique
// by name, and user-space interfaces, unique by name and type.
type Interfaces struct {
	kernel map[string]Interface
	user   map[ifaceKey]Interface
	order  []ifaceKey
}

// NewInterfaces returns an empty collection.
func NewInterfaces(ifaces ...Interface) *Interfaces {
	s := &Interfaces{
		kernel: make(map[string]Interface),
		user:   make(map[ifaceKey]Interface),
	}
	for _, iface := range ifaces {
		s.Push(iface)
	}
	return s
}

// Push inserts or replaces an interface. A replacement keeps its original
// insertion position.
func (s *Interfaces) Push(iface Interface) {
	k := keyOf(iface)
	if k.typ == "" {
		if _, ok := s.kernel[k.name]; !ok {
			s.order = append(s.order, k)
		}
		s.kernel[k.name] = iface
		return
	}
	if _, ok := s.user[k]; !ok {
		s.order = append(s.order, k)
	}
	s.user[k] = iface
}

// Get looks an interface up by name and type. A user-space type searches
// the user-space map; an unknown type prefers the kernel entry and falls
// back to any user-space entry of that name.
func (s *Interfaces) Get(name string, typ InterfaceType) Interface {
	if s == nil {
		return nil
	}
	if typ.IsUserspace() {
		return s.user[ifaceKey{name: name, typ: typ}]
	}
	if iface, ok := s.kernel[name]; ok {
		return iface
	}
	if typ.IsUnknown() {
		for _, k := range s.order {
			if k.typ != "" && k.name == name {
				return s.user[k]
			}
		}
	}
	return nil
}

// GetKernel returns the kernel interface called name.
func (s *Interfaces) GetKernel(name string) Interface {
	if s == nil {
		return nil
	}
	return s.kernel[name]
}

// GetUser returns the user-space interface with name and type.
func (s *Interfaces) GetUser(name string, typ InterfaceType) Interface {
	if s == nil {
		return nil
	}
	return s.user[ifaceKey{name: name, typ: typ}]
}

// Lookup finds the entry sharing iface's identity.
func (s *Interfaces) Lookup(iface Interface) Interface {
	b := iface.Base()
	return s.Get(b.Name, b.Type)
}

// ByName returns every interface called name, kernel first.
func (s *Interfaces) ByName(name string) []Interface {
	if s == nil {
		return nil
	}
	var out []Interface
	if iface, ok := s.kernel[name]; ok {
		out = append(out, iface)
	}
	for _, k := range s.order {
		if k.typ != "" && k.name == name {
			out = append(out, s.user[k])
		}
	}
	return out
}

// Remove deletes the entry with iface's identity.
func (s *Interfaces) Remove(iface Interface) {
	if s == nil {
		return
	}
	k := keyOf(iface)
	if k.typ == "" {
		if _, ok := s.kernel[k.name]; !ok {
			return
		}
		delete(s.kernel, k.name)
	} else {
		if _, ok := s.user[k]; !ok {
			return
		}
		delete(s.user, k)
	}
	for i, o := range s.order {
		if o == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// List returns the interfaces in insertion order.
func (s *Interfaces) List() []Interface {
	if s == nil {
		return nil
	}
	out := make([]Interface, 0, len(s.order))
	for _, k := range s.order {
		if k.typ == "" {
			out = append(out, s.kernel[k.name])
		} else {
			out = append(out, s.user[k])
		}
	}
	return out
}

// Len returns the number of interfaces.
func (s *Interfaces) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Names returns the interface names in insertion order.
func (s *Interfaces) Names() []string {
	var names []string
	for _, iface := range s.List() {
		names = append(names, iface.Base().Name)
	}
	return names
}

// Clone returns a deep copy sharing nothing with s.
func (s *Interfaces) Clone() *Interfaces {
	out := NewInterfaces()
	for _, iface := range s.List() {
		out.Push(CloneInterface(iface))
	}
	return out
}

// CloneInterface deep copies a single interface.
func CloneInterface(iface Interface) Interface {
	return copystructure.Must(copystructure.Copy(iface)).(Interface)
}

// MarshalYAML renders the collection as an ordered list.
func (s *Interfaces) MarshalYAML() (interface{}, error) {
	return s.List(), nil
}

// UnmarshalYAML decodes an ordered list of interface records, choosing the
// concrete kind from each record's type.
func (s *Interfaces) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw []yaml.MapSlice
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*s = *NewInterfaces()
	for _, item := range raw {
		data, err := yaml.Marshal(item)
		if err != nil {
			return err
		}
		iface, err := DecodeInterface(data)
		if err != nil {
			return err
		}
		if s.Lookup(iface) != nil {
			return errors.Errorf(errors.KindInvalidArgument,
				"duplicate interface %s type %s", iface.Base().Name, iface.Base().Type)
		}
		s.Push(iface)
	}
	return nil
}

// DecodeInterface decodes one interface record. Absent records are reduced
// to name, type and state.
func DecodeInterface(data []byte) (Interface, error) {
	var head BaseInterface
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, errors.KindInvalidArgument, "invalid interface record")
	}
	if head.Name == "" {
		return nil, errors.New(errors.KindInvalidArgument, "interface record without name")
	}
	iface := NewInterface(head.Name, head.Type)
	if head.State == StateAbsent {
		iface.Base().State = StateAbsent
		return iface, nil
	}
	if err := yaml.UnmarshalStrict(data, iface); err != nil {
		return nil, errors.Wrapf(err, errors.KindInvalidArgument, "invalid interface %s", head.Name)
	}
	return iface, nil
}

// ConvertType re-decodes iface as the kind of typ, keeping every field the
// new kind understands. Unknown-typed desired records use this to inherit
// the kind of their current counterpart.
func ConvertType(iface Interface, typ InterfaceType) (Interface, error) {
	m := ToMap(iface)
	if m == nil {
		m = map[interface{}]interface{}{}
	}
	m["type"] = string(typ)
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := NewInterface(iface.Base().Name, typ)
	if err := yaml.UnmarshalStrict(data, out); err != nil {
		return nil, errors.Wrapf(err, errors.KindInvalidArgument,
			"interface %s cannot be treated as %s", iface.Base().Name, typ)
	}
	copyInternal(out.Base(), iface.Base())
	return out, nil
}

func copyInternal(dst, src *BaseInterface) {
	if src.ControllerType != "" {
		dst.ControllerType = src.ControllerType
	}
	if src.UpPriority != 0 {
		dst.UpPriority = src.UpPriority
	}
	copyPayload(dst.IPv4, src.IPv4)
	copyPayload(dst.IPv6, src.IPv6)
}

func copyPayload(dst, src *InterfaceIP) {
	if dst == nil || src == nil {
		return
	}
	if src.DNS != nil {
		dst.DNS = src.DNS
	}
	if src.Routes != nil {
		dst.Routes = src.Routes
	}
	if src.Rules != nil {
		dst.Rules = src.Rules
	}
}

// MergeInterface overlays the fields set in overlay onto base and returns a
// new interface. The overlay's kind wins unless it is unknown.
func MergeInterface(base, overlay Interface) (Interface, error) {
	merged := mergeMaps(ToMap(base), ToMap(overlay))
	typ := overlay.Base().Type
	if typ.IsUnknown() {
		typ = base.Base().Type
	}
	merged["type"] = string(typ)
	data, err := yaml.Marshal(merged)
	if err != nil {
		return nil, err
	}
	out := NewInterface(base.Base().Name, typ)
	if err := yaml.Unmarshal(data, out); err != nil {
		return nil, errors.Wrapf(err, errors.KindPluginFailure, "cannot merge interface %s", base.Base().Name)
	}
	copyInternal(out.Base(), base.Base())
	copyInternal(out.Base(), overlay.Base())
	return out, nil
}

func mergeMaps(base, overlay map[interface{}]interface{}) map[interface{}]interface{} {
	out := make(map[interface{}]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		bm, bok := out[k].(map[interface{}]interface{})
		om, ook := v.(map[interface{}]interface{})
		if bok && ook {
			out[k] = mergeMaps(bm, om)
			continue
		}
		out[k] = v
	}
	return out
}
