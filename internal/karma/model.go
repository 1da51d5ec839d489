package karma

import (
	"regexp"
	"strings"
)

// EntityType classifies what a karma tally is attached to.
type EntityType string

const (
	EntityPerson EntityType = "person"
	EntityShow   EntityType = "show"
	EntityTrack  EntityType = "track"
)

// Entity is one karma tally row.
type Entity struct {
	ID               string     `gorm:"column:id;primaryKey;size:190;not null"`
	Name             string     `gorm:"column:name;not null"`
	Type             EntityType `gorm:"column:entity_type;size:16;not null;index"`
	Karma            int64      `gorm:"column:karma;not null"`
	BoostCount       int64      `gorm:"column:boost_count;not null"`
	FirstSeenSeconds int64      `gorm:"column:first_seen_s;not null"`
	LastSeenSeconds  int64      `gorm:"column:last_seen_s;not null"`
}

func (Entity) TableName() string {
	return "karma_entities"
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// EntityID derives the stable row key from a display name and type.
func EntityID(name string, entityType EntityType) string {
	slug := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(name), "-"), "-")
	return string(entityType) + ":" + slug
}
