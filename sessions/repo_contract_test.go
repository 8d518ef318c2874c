package sessions_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jrsteele09/transcript-summary/sessions"
	"github.com/jrsteele09/transcript-summary/sessions/storetest"
)

func TestInMemoryRepo_Contract(t *testing.T) {
	storetest.Run(t, sessions.NewInMemoryRepo(), uuid.NewString)
}
