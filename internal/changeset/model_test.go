package changeset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoidl/chronicle/internal/changeset"
)

/*
TestRegistry_Register covers registration validation and defaulting.
*/
func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		cfg     changeset.ModelConfig
		wantErr bool
	}{
		{
			"valid",
			changeset.ModelConfig{ObjectType: "polls.poll", TrackFields: []string{"question"}},
			false,
		},
		{
			"no_tracked_fields",
			changeset.ModelConfig{ObjectType: "polls.poll"},
			true,
		},
		{
			"untracked_soft_delete_field",
			changeset.ModelConfig{
				ObjectType:        "polls.poll",
				TrackFields:       []string{"question"},
				TrackSoftDeleteBy: "deleted",
			},
			true,
		},
		{
			"malformed_object_type",
			changeset.ModelConfig{ObjectType: "poll", TrackFields: []string{"question"}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := changeset.NewRegistry()
			err := registry.Register(tt.cfg)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)

				cfg, ok := registry.Lookup("polls.poll")
				require.True(t, ok)
				assert.Equal(t, "id", cfg.TrackBy)
			}
		})
	}
}

/*
TestRegistry_RejectsDuplicates ensures a model can only register once.
*/
func TestRegistry_RejectsDuplicates(t *testing.T) {
	registry := changeset.NewRegistry()
	cfg := changeset.ModelConfig{ObjectType: "polls.poll", TrackFields: []string{"question"}}

	require.NoError(t, registry.Register(cfg))
	assert.Error(t, registry.Register(cfg))
}

/*
TestNormalizeObjectType verifies dotted identifier normalization.
*/
func TestNormalizeObjectType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"already_normalized", "polls.poll", "polls.poll", false},
		{"display_cased", "Polls.Actual Vote", "polls.actual-vote", false},
		{"missing_dot", "poll", "", true},
		{"empty_half", "polls.", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := changeset.NormalizeObjectType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

/*
TestFieldLabel checks descriptor labels and the snake_case fallback.
*/
func TestFieldLabel(t *testing.T) {
	cfg := changeset.ModelConfig{
		ObjectType:  "polls.poll",
		TrackFields: []string{"question", "pub_date"},
		Fields: map[string]changeset.FieldDescriptor{
			"question": {Name: "question", Label: "Poll question"},
		},
	}

	assert.Equal(t, "Poll question", cfg.FieldLabel("question"))
	assert.Equal(t, "Pub date", cfg.FieldLabel("pub_date"))
}

/*
TestDisplayValue checks the choices mapping and its fallbacks.
*/
func TestDisplayValue(t *testing.T) {
	cfg := changeset.ModelConfig{
		ObjectType:  "polls.poll",
		TrackFields: []string{"status"},
		Fields: map[string]changeset.FieldDescriptor{
			"status": {Name: "status", Choices: map[string]string{"o": "Open", "c": "Closed"}},
		},
	}

	open := "o"
	unknown := "x"

	assert.Equal(t, "Open", cfg.DisplayValue("status", &open))
	assert.Equal(t, "x", cfg.DisplayValue("status", &unknown))
	assert.Equal(t, "", cfg.DisplayValue("status", nil))
}

/*
TestRegistry_Decorate verifies records are annotated with labels and display
values, including for unregistered object types.
*/
func TestRegistry_Decorate(t *testing.T) {
	registry := changeset.NewRegistry()
	registry.MustRegister(changeset.ModelConfig{
		ObjectType:  "polls.poll",
		TrackFields: []string{"question", "pub_date"},
		Fields: map[string]changeset.FieldDescriptor{
			"question": {Name: "question", Label: "Poll question"},
		},
	})

	oldValue := "Old?"
	newValue := "New?"
	cs := &changeset.ChangeSet{
		ObjectType: "polls.poll",
		Records: []*changeset.ChangeRecord{
			{FieldName: "question", OldValue: &oldValue, NewValue: &newValue},
			{FieldName: "pub_date", NewValue: &newValue},
		},
	}

	registry.Decorate(cs)

	assert.Equal(t, "Poll question", cs.Records[0].Label)
	assert.Equal(t, "Old?", cs.Records[0].OldValueDisplay)
	assert.Equal(t, "New?", cs.Records[0].NewValueDisplay)
	assert.Equal(t, "Pub date", cs.Records[1].Label)
}
