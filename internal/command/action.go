package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pancount/internal/model"
)

var ErrUnknownAction = errors.New("unknown command action")

// Handler executes one device command. Both channel variants end up here.
type Handler func(ctx context.Context, action model.CommandAction) error

func ParseAction(s string) (model.CommandAction, error) {
	a := model.CommandAction(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case model.ActionCalibrationStart, model.ActionCalibrationStop:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// invoke runs h and turns a panic into an error.
func invoke(ctx context.Context, h Handler, action model.CommandAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %s panicked: %v", action, r)
		}
	}()
	return h(ctx, action)
}
