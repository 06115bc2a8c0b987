package celengine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"golang.org/x/sync/singleflight"
)

// Activity variables visible to bonus rule expressions.
const (
	VarGuildID   = "guild_id"
	VarUserID    = "user_id"
	VarChannelID = "channel_id"
	VarRoleIDs   = "role_ids"
	VarIsBooster = "is_booster"
)

var (
	activityEnv     *cel.Env
	activityEnvErr  error
	activityEnvOnce sync.Once
)

// ActivityEnv returns the shared environment for expressions evaluated against a chat activity.
func ActivityEnv() (*cel.Env, error) {
	activityEnvOnce.Do(func() {
		activityEnv, activityEnvErr = cel.NewEnv(
			cel.Variable(VarGuildID, cel.StringType),
			cel.Variable(VarUserID, cel.StringType),
			cel.Variable(VarChannelID, cel.StringType),
			cel.Variable(VarRoleIDs, cel.ListType(cel.StringType)),
			cel.Variable(VarIsBooster, cel.BoolType),
		)
	})
	return activityEnv, activityEnvErr
}

// Compile type-checks expr and requires a bool result.
func Compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	return env.Program(ast)
}

func ValidateExpression(env *cel.Env, expr string) error {
	_, err := Compile(env, expr)
	return err
}

func Evaluate(prg cel.Program, attrs map[string]any) (bool, error) {
	out, _, err := prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}
	return b, nil
}

// ProgramCache memoizes compiled programs by expression text. Concurrent misses
// for the same expression compile once.
type ProgramCache struct {
	env   *cel.Env
	mu    sync.RWMutex
	items map[string]cel.Program
	group singleflight.Group
}

func NewProgramCache(env *cel.Env) *ProgramCache {
	return &ProgramCache{env: env, items: make(map[string]cel.Program)}
}

func (c *ProgramCache) Get(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.items[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	v, err, _ := c.group.Do(expr, func() (any, error) {
		prg, err := Compile(c.env, expr)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[expr] = prg
		c.mu.Unlock()
		return prg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(cel.Program), nil
}
