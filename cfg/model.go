package cfg

import (
	"fmt"

	"github.com/maxpert/livestore/entity"
)

// BuildModel turns the [[entity]] declarations into an entity model
func (c *Configuration) BuildModel() (*entity.Model, error) {
	if len(c.Entities) == 0 {
		return nil, fmt.Errorf("no entities configured")
	}

	types := make([]*entity.Type, 0, len(c.Entities))
	for _, ent := range c.Entities {
		fields := make([]entity.Field, 0, len(ent.Fields))
		for _, f := range ent.Fields {
			kind, err := entity.ParseKind(f.Kind)
			if err != nil {
				return nil, fmt.Errorf("entity %s field %s: %w", ent.Name, f.Name, err)
			}
			fields = append(fields, entity.Field{
				Name:      f.Name,
				Kind:      kind,
				Key:       f.Key,
				Generated: f.Generated,
				Nullable:  f.Nullable,
			})
		}

		relations := make([]entity.Relation, 0, len(ent.Relations))
		for _, r := range ent.Relations {
			relations = append(relations, entity.Relation{Field: r.Field, Target: r.Target})
		}

		types = append(types, entity.NewType(ent.Name, fields, relations...))
	}

	return entity.NewModel(types...)
}
