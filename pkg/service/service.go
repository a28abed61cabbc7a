// Package service carries the Run/Shutdown lifecycle shared by the app's
// long-running parts.
package service

import (
	"context"
	"fmt"
)

// Service is anything the group can own.
type Service interface{}

// RunnableService is a service with an explicit lifecycle.
type RunnableService interface {
	Service

	Run()
	Shutdown(ctx context.Context) error
}

// Group owns a set of services and starts and stops them together.
type Group struct {
	list []Service
}

func (g *Group) Add(services ...Service) { g.list = append(g.list, services...) }

func (g *Group) Start() {
	for _, s := range g.list {
		if v, ok := s.(RunnableService); ok {
			v.Run()
		}
	}
}

// Shutdown stops every runnable service, collecting failures instead of
// bailing on the first one.
func (g *Group) Shutdown(ctx context.Context) (err error) {
	var errs []error
	for _, s := range g.list {
		if v, ok := s.(RunnableService); ok {
			if err := v.Shutdown(ctx); err != nil && err != context.Canceled {
				errs = append(errs, fmt.Errorf("shutdown of [%s] fail: %v", s, err))
			}
		}
	}
	if len(errs) > 0 {
		err = fmt.Errorf("%s", errs)
	}
	return
}
