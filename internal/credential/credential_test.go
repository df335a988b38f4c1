package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPrompt struct {
	answers []string
	calls   int
}

func (c *countingPrompt) Prompt(context.Context, string) (string, error) {
	c.calls++
	if len(c.answers) == 0 {
		return "", errors.New("no more answers")
	}
	a := c.answers[0]
	c.answers = c.answers[1:]
	return a, nil
}

func TestProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("configured password wins", func(t *testing.T) {
		ring := keyring.NewArrayKeyring([]keyring.Item{{Key: "tim@mail", Data: []byte("from-ring")}})
		p := NewProvider("tim@mail", "from-config", ring, nil, zerolog.Nop())

		pw, err := p.Password(ctx)

		require.NoError(t, err)
		assert.Equal(t, "from-config", pw)
	})

	t.Run("forgotten configured password falls back to keyring", func(t *testing.T) {
		ring := keyring.NewArrayKeyring([]keyring.Item{{Key: "tim@mail", Data: []byte("from-ring")}})
		p := NewProvider("tim@mail", "stale", ring, nil, zerolog.Nop())
		_, err := p.Password(ctx)
		require.NoError(t, err)

		p.Forget()
		pw, err := p.Password(ctx)

		require.NoError(t, err)
		assert.Equal(t, "from-ring", pw)
	})

	t.Run("prompted password is cached and stored", func(t *testing.T) {
		ring := keyring.NewArrayKeyring(nil)
		prompt := &countingPrompt{answers: []string{"secret"}}
		p := NewProvider("tim@mail", "", ring, prompt, zerolog.Nop())

		for i := 0; i < 3; i++ {
			pw, err := p.Password(ctx)
			require.NoError(t, err)
			assert.Equal(t, "secret", pw)
		}

		assert.Equal(t, 1, prompt.calls)
		item, err := ring.Get("tim@mail")
		require.NoError(t, err)
		assert.Equal(t, "secret", string(item.Data))
	})

	t.Run("rejected keyring password is removed", func(t *testing.T) {
		ring := keyring.NewArrayKeyring([]keyring.Item{{Key: "tim@mail", Data: []byte("old")}})
		prompt := &countingPrompt{answers: []string{"new"}}
		p := NewProvider("tim@mail", "", ring, prompt, zerolog.Nop())
		pw, err := p.Password(ctx)
		require.NoError(t, err)
		assert.Equal(t, "old", pw)

		p.Forget()
		pw, err = p.Password(ctx)

		require.NoError(t, err)
		assert.Equal(t, "new", pw)
		item, err := ring.Get("tim@mail")
		require.NoError(t, err)
		assert.Equal(t, "new", string(item.Data))
	})

	t.Run("nothing to ask", func(t *testing.T) {
		p := NewProvider("tim@mail", "", keyring.NewArrayKeyring(nil), nil, zerolog.Nop())

		_, err := p.Password(ctx)

		assert.ErrorIs(t, err, ErrNoPassword)
	})

	t.Run("prompt failure", func(t *testing.T) {
		p := NewProvider("tim@mail", "", nil, &countingPrompt{}, zerolog.Nop())

		_, err := p.Password(ctx)

		assert.Error(t, err)
	})

	t.Run("empty answer", func(t *testing.T) {
		p := NewProvider("tim@mail", "", nil, PrompterFunc(func(context.Context, string) (string, error) {
			return "", nil
		}), zerolog.Nop())

		_, err := p.Password(ctx)

		assert.ErrorIs(t, err, ErrNoPassword)
	})
}
