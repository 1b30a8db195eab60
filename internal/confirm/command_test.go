package confirm

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestNewCommandDispatcher_EmptyCommand(t *testing.T) {
	if _, err := NewCommandDispatcher(nil); err == nil {
		t.Error("expected error for nil command")
	}
}

func TestCommandDispatcher_Args(t *testing.T) {
	tests := []struct {
		name    string
		command []string
		want    []string
	}{
		{"appended", []string{"send-keys", "--enter"}, []string{"--enter", "0x1"}},
		{"placeholder", []string{"send-keys", "--window={ref}", "--enter"}, []string{"--window=0x1", "--enter"}},
		{"bare", []string{"send-keys"}, []string{"0x1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewCommandDispatcher(tt.command)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			d.run = func(_ context.Context, name string, args ...string) error {
				got = args
				return nil
			}
			if err := d.SendConfirm(context.Background(), "0x1"); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("args = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCommandDispatcher_PropagatesFailure(t *testing.T) {
	d, _ := NewCommandDispatcher([]string{"send-keys"})
	d.run = func(context.Context, string, ...string) error { return errors.New("exit status 1") }
	if err := d.SendConfirm(context.Background(), "0x1"); err == nil {
		t.Error("expected helper failure to surface")
	}
}
