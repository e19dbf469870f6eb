package application

import (
	"errors"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

type fakeService struct{ name string }

type fakeController struct{ key string }

func (c *fakeController) Register(r *mux.Router) {}
func (c *fakeController) Key() string            { return c.key }

type fakeModule struct {
	name string
	err  error
}

func (m *fakeModule) Register(app Application) error {
	if m.err != nil {
		return m.err
	}
	app.RegisterServices(&fakeService{name: m.name})
	app.RegisterControllers(&fakeController{key: "/" + m.name})
	return nil
}

func (m *fakeModule) Name() string { return m.name }

func TestLoad_RegistersServicesAndControllers(t *testing.T) {
	app := New(&ApplicationOptions{})
	require.NoError(t, Load(app, &fakeModule{name: "b"}, &fakeModule{name: "a"}))

	svc := app.Service(fakeService{}).(*fakeService)
	require.Equal(t, "a", svc.name)

	controllers := app.Controllers()
	require.Len(t, controllers, 2)
	require.Equal(t, "/a", controllers[0].Key())
	require.Equal(t, "/b", controllers[1].Key())
	require.NotNil(t, app.EventPublisher())
}

func TestLoad_StopsOnModuleError(t *testing.T) {
	app := New(&ApplicationOptions{})
	boom := errors.New("boom")
	err := Load(app, &fakeModule{name: "bad", err: boom})
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "module bad")
}

func TestService_PanicsWhenMissing(t *testing.T) {
	app := New(&ApplicationOptions{})
	require.Panics(t, func() { app.Service(fakeService{}) })
}
