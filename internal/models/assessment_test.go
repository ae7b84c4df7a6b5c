package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssignmentStatusCanTransition(t *testing.T) {
	cases := []struct {
		from    AssignmentStatus
		to      AssignmentStatus
		allowed bool
	}{
		{AssignmentStatusNotStarted, AssignmentStatusInProgress, true},
		{AssignmentStatusInProgress, AssignmentStatusSubmitted, true},
		{AssignmentStatusSubmitted, AssignmentStatusGraded, true},
		{AssignmentStatusNotStarted, AssignmentStatusSubmitted, false},
		{AssignmentStatusNotStarted, AssignmentStatusGraded, false},
		{AssignmentStatusInProgress, AssignmentStatusNotStarted, false},
		{AssignmentStatusSubmitted, AssignmentStatusInProgress, false},
		{AssignmentStatusGraded, AssignmentStatusSubmitted, false},
		{AssignmentStatusGraded, AssignmentStatusGraded, false},
		{AssignmentStatus("UNKNOWN"), AssignmentStatusInProgress, false},
		{AssignmentStatusNotStarted, AssignmentStatus("UNKNOWN"), false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.allowed, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}
