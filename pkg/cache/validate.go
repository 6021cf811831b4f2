package cache

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/jobwatch/internal/assets/schemas"
)

// ErrInvalidFile indicates a cache file does not match its schema.
var ErrInvalidFile = errors.New("cache file does not match schema")

// schemaCheck lazily compiles one embedded schema.
type schemaCheck struct {
	name string
	raw  []byte

	once      sync.Once
	validator *schema.Validator
	err       error
}

var (
	experimentSchema = &schemaCheck{name: "experiment-cache", raw: schemasassets.ExperimentCacheSchema}
	detailSchema     = &schemaCheck{name: "detail-cache", raw: schemasassets.DetailCacheSchema}
	scalarSchema     = &schemaCheck{name: "scalar-cache", raw: schemasassets.ScalarCacheSchema}
)

func (c *schemaCheck) compile() (*schema.Validator, error) {
	c.once.Do(func() {
		if len(c.raw) == 0 {
			c.err = fmt.Errorf("embedded %s schema is empty", c.name)
			return
		}
		c.validator, c.err = schema.NewValidator(c.raw)
		if c.err != nil {
			c.err = fmt.Errorf("compile %s schema: %w", c.name, c.err)
		}
	})
	return c.validator, c.err
}

// validate returns an ErrInvalidFile-wrapped error listing schema
// violations in data. A schema that cannot be compiled skips validation.
func (c *schemaCheck) validate(data []byte) error {
	if c == nil {
		return nil
	}
	v, err := c.compile()
	if err != nil {
		return nil
	}

	diags, err := v.ValidateJSON(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	var msgs []string
	for _, d := range diags {
		if d.Severity != schema.SeverityError {
			continue
		}
		if d.Pointer != "" {
			msgs = append(msgs, d.Pointer+": "+d.Message)
		} else {
			msgs = append(msgs, d.Message)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidFile, strings.Join(msgs, "; "))
}
