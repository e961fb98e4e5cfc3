package mongodb

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ajitpratap0/federate/pkg/errors"
)

// Operation is the kind of a MongoDB command
type Operation string

const (
	OpFind      Operation = "find"
	OpAggregate Operation = "aggregate"
	OpWatch     Operation = "watch"
)

// Command is a parsed MongoDB command
type Command struct {
	Find      string   `bson:"find,omitempty"`
	Aggregate string   `bson:"aggregate,omitempty"`
	Watch     string   `bson:"watch,omitempty"`
	Filter    bson.D   `bson:"filter,omitempty"`
	Pipeline  []bson.D `bson:"pipeline,omitempty"`
	Sort      bson.D   `bson:"sort,omitempty"`
	Limit     int64    `bson:"limit,omitempty"`
	Skip      int64    `bson:"skip,omitempty"`
}

// ParseCommand parses an extended JSON command
func ParseCommand(text string) (*Command, error) {
	var cmd Command
	if err := bson.UnmarshalExtJSON([]byte(strings.TrimSpace(text)), false, &cmd); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProcessing, "invalid mongodb command")
	}
	set := 0
	for _, name := range []string{cmd.Find, cmd.Aggregate, cmd.Watch} {
		if name != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New(errors.ErrorTypeProcessing, "mongodb command must name exactly one of find, aggregate or watch")
	}
	if cmd.Limit < 0 || cmd.Skip < 0 {
		return nil, errors.New(errors.ErrorTypeProcessing, "limit and skip must not be negative")
	}
	if cmd.Find == "" && (len(cmd.Filter) > 0 || len(cmd.Sort) > 0 || cmd.Skip > 0) {
		return nil, errors.New(errors.ErrorTypeProcessing, "filter, sort and skip only apply to find")
	}
	if cmd.Find != "" && len(cmd.Pipeline) > 0 {
		return nil, errors.New(errors.ErrorTypeProcessing, "pipeline does not apply to find")
	}
	return &cmd, nil
}

// Operation returns the command's operation
func (c *Command) Operation() Operation {
	switch {
	case c.Find != "":
		return OpFind
	case c.Aggregate != "":
		return OpAggregate
	default:
		return OpWatch
	}
}

// Collection returns the collection the command reads
func (c *Command) Collection() string {
	switch c.Operation() {
	case OpFind:
		return c.Find
	case OpAggregate:
		return c.Aggregate
	default:
		return c.Watch
	}
}

// Projection selects the top level fields holding the given paths
func Projection(paths []string) bson.D {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(paths))
	proj := bson.D{}
	for _, p := range paths {
		top := strings.SplitN(p, ".", 2)[0]
		if top == "" || seen[top] {
			continue
		}
		seen[top] = true
		proj = append(proj, bson.E{Key: top, Value: 1})
	}
	if !seen["_id"] {
		proj = append(proj, bson.E{Key: "_id", Value: 0})
	}
	return proj
}
