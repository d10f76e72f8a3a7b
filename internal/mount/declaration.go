package mount

import (
	"github.com/google/uuid"
	"gopkg.in/yaml.v2"

	"github.com/tarbox/tarbox/pkg/errors"
	"github.com/tarbox/tarbox/pkg/types"
)

// Declaration is the external configuration form of a tenant's mount set,
// applied atomically through SetEntries.
type Declaration struct {
	Mounts []DeclaredMount `yaml:"mounts"`
}

// DeclaredMount is one entry of the declaration document.
type DeclaredMount struct {
	Name        string         `yaml:"name"`
	VirtualPath string         `yaml:"virtual_path"`
	Source      DeclaredSource `yaml:"source"`
	Mode        string         `yaml:"mode"`
	IsFile      bool           `yaml:"is_file"`
	Enabled     *bool          `yaml:"enabled"`
}

// DeclaredSource carries the kind-specific source fields.
type DeclaredSource struct {
	Kind        string `yaml:"kind"`
	HostPath    string `yaml:"host_path"`
	Mount       string `yaml:"mount"`
	Layer       string `yaml:"layer"`
	Subpath     string `yaml:"subpath"`
	Publication string `yaml:"publication"`
}

// ParseDeclaration reads the yaml document into mount entries ready for
// SetEntries. Validation beyond shape (nesting, collisions) happens there.
func ParseDeclaration(data []byte) ([]types.MountEntry, error) {
	var doc Declaration
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.KindInvalidArgument, "malformed mount declaration", err)
	}

	entries := make([]types.MountEntry, 0, len(doc.Mounts))
	for _, d := range doc.Mounts {
		e := types.MountEntry{
			Name:        d.Name,
			VirtualPath: d.VirtualPath,
			IsFile:      d.IsFile,
			Enabled:     d.Enabled == nil || *d.Enabled,
		}
		switch d.Mode {
		case "ro":
			e.AccessMode = types.ModeReadOnly
		case "rw":
			e.AccessMode = types.ModeReadWrite
		case "cow":
			e.AccessMode = types.ModeCopyOnWrite
		default:
			return nil, errors.Newf(errors.KindInvalidArgument, "mount %s: unknown mode %q", d.Name, d.Mode)
		}

		switch d.Source.Kind {
		case "host":
			e.SourceKind = types.SourceHost
			e.HostPath = d.Source.HostPath
		case "layer":
			e.SourceKind = types.SourceLayer
			mid, err := uuid.Parse(d.Source.Mount)
			if err != nil {
				return nil, errors.Newf(errors.KindInvalidArgument, "mount %s: bad mount reference %q", d.Name, d.Source.Mount)
			}
			lid, err := uuid.Parse(d.Source.Layer)
			if err != nil {
				return nil, errors.Newf(errors.KindInvalidArgument, "mount %s: bad layer reference %q", d.Name, d.Source.Layer)
			}
			e.SourceMountID = &mid
			e.SourceLayerID = &lid
			e.SourceSubpath = d.Source.Subpath
		case "published":
			e.SourceKind = types.SourcePublished
			e.PublicationName = d.Source.Publication
			e.SourceSubpath = d.Source.Subpath
		case "working_layer":
			e.SourceKind = types.SourceWorkingLayer
		default:
			return nil, errors.Newf(errors.KindInvalidArgument, "mount %s: unknown source kind %q", d.Name, d.Source.Kind)
		}

		if err := ValidateEntry(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
