package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-runtime/internal/model"
)

func TestScore(t *testing.T) {
	q1, q2, q3, q4 := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	key := map[uuid.UUID][]string{
		q1: {"A"},
		q2: {"B", "D"},
		q3: {"C"},
		q4: {"A", "B"},
	}

	tests := []struct {
		name    string
		answers map[uuid.UUID][]string
		want    float64
	}{
		{"all correct", map[uuid.UUID][]string{q1: {"A"}, q2: {"D", "B"}, q3: {"C"}, q4: {"B", "A"}}, 100},
		{"nothing answered", nil, 0},
		{"partial multiple is wrong", map[uuid.UUID][]string{q1: {"A"}, q2: {"B"}, q3: {"C"}}, 50},
		{"extra option is wrong", map[uuid.UUID][]string{q1: {"A", "B"}, q3: {"C"}, q4: {"A", "B"}}, 50},
		{"one of four", map[uuid.UUID][]string{q3: {"C"}, q1: {}}, 25},
		{"unknown question ignored", map[uuid.UUID][]string{uuid.New(): {"A"}, q1: {"A"}}, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.answers, key); got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreRoundsToTwoDecimals(t *testing.T) {
	q1, q2, q3 := uuid.New(), uuid.New(), uuid.New()
	key := map[uuid.UUID][]string{q1: {"A"}, q2: {"A"}, q3: {"A"}}

	if got := Score(map[uuid.UUID][]string{q1: {"A"}}, key); got != 33.33 {
		t.Errorf("Score() = %v, want 33.33", got)
	}
	if got := Score(map[uuid.UUID][]string{q1: {"A"}, q2: {"A"}}, key); got != 66.67 {
		t.Errorf("Score() = %v, want 66.67", got)
	}
}

func TestScoreEmptyKey(t *testing.T) {
	if got := Score(map[uuid.UUID][]string{uuid.New(): {"A"}}, nil); got != 0 {
		t.Errorf("Score() = %v, want 0", got)
	}
}

func TestCompletionStatus(t *testing.T) {
	if got := CompletionStatus(model.SubmitReasonTimeout); got != model.AttemptStatusExpired {
		t.Errorf("timeout maps to %s", got)
	}
	if got := CompletionStatus(model.SubmitReasonManual); got != model.AttemptStatusSubmitted {
		t.Errorf("manual maps to %s", got)
	}
}

func TestCertificateRefIsStable(t *testing.T) {
	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	if got := CertificateRef(id); got != "CERT-0F8FAD5BD9CB" {
		t.Errorf("CertificateRef() = %q", got)
	}
	if CertificateRef(id) != CertificateRef(id) {
		t.Error("reference changed between calls")
	}
}

func TestDecodeAnswers(t *testing.T) {
	sid, qid := uuid.New(), uuid.New()
	fields := map[string]string{
		qid.String(): `{"selected":["A","C"],"updated_at":"2026-10-01T09:00:00Z"}`,
	}

	records, err := decodeAnswers(sid, fields)
	if err != nil {
		t.Fatalf("decodeAnswers: %v", err)
	}
	if len(records) != 1 || records[0].QuestionID != qid || records[0].SessionID != sid {
		t.Fatalf("unexpected records %+v", records)
	}
	if got := records[0].SelectedOptionIDs; len(got) != 2 || got[0] != "A" || got[1] != "C" {
		t.Errorf("selected = %v", got)
	}

	if _, err := decodeAnswers(sid, map[string]string{"not-a-uuid": `{}`}); err == nil {
		t.Error("expected error for malformed question id")
	}
	if _, err := decodeAnswers(sid, map[string]string{qid.String(): `[`}); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestAwaitResult(t *testing.T) {
	stored := &model.SubmissionResult{SessionID: uuid.New(), Score: 80, IsPassed: true, Reason: model.SubmitReasonManual}
	errDown := errors.New("result store down")

	tests := []struct {
		name    string
		readyAt int
		err     error
		want    *model.SubmissionResult
		wantErr error
	}{
		{name: "holder finishes while waiting", readyAt: 3, want: stored},
		{name: "holder never finishes", readyAt: -1},
		{name: "lookup fails", readyAt: -1, err: errDown, wantErr: errDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			lookup := func(context.Context) (*model.SubmissionResult, error) {
				calls++
				if tt.err != nil {
					return nil, tt.err
				}
				if tt.readyAt > 0 && calls >= tt.readyAt {
					return stored, nil
				}
				return nil, nil
			}

			got, err := awaitResult(context.Background(), 100*time.Millisecond, 5*time.Millisecond, lookup)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("result = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAwaitResultStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	got, err := awaitResult(ctx, time.Minute, time.Second, func(context.Context) (*model.SubmissionResult, error) {
		t.Fatal("lookup must not run after cancellation")
		return nil, nil
	})
	if got != nil || err != nil {
		t.Fatalf("got %+v, %v", got, err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("awaitResult ignored a cancelled context")
	}
}
