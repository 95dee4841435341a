package restart

import "github.com/google/uuid"

func newAttemptID() string { return uuid.NewString() }
