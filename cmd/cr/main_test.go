package main

import (
	"slices"
	"testing"

	"cr-go/internal/wastebin"

	"github.com/spf13/cobra"
)

func TestDisinheritSpec(t *testing.T) {
	t.Run("reads every flag", func(t *testing.T) {
		cmd := &cobra.Command{Use: "disinherit"}
		cmd.Flags().Bool("default", false, "")
		cmd.Flags().StringSlice("exclude", nil, "")
		cmd.Flags().StringSlice("include", nil, "")
		cmd.Flags().BoolP("recursive", "r", false, "")
		if err := cmd.ParseFlags([]string{"--exclude", "de,fr", "--include=at", "--default", "-r"}); err != nil {
			t.Fatalf("ParseFlags() error = %v", err)
		}

		spec, err := disinheritSpec(cmd)
		if err != nil {
			t.Fatalf("disinheritSpec() error = %v", err)
		}
		if !spec.Default || !spec.Recursive {
			t.Errorf("Default = %v, Recursive = %v, want both set", spec.Default, spec.Recursive)
		}
		if !slices.Equal(spec.Excluded, []string{"de", "fr"}) || !slices.Equal(spec.Included, []string{"at"}) {
			t.Errorf("Excluded = %v, Included = %v", spec.Excluded, spec.Included)
		}
	})

	t.Run("missing flag is an error", func(t *testing.T) {
		cmd := &cobra.Command{Use: "disinherit"}
		cmd.Flags().Bool("default", false, "")
		cmd.Flags().StringSlice("exclude", nil, "")

		if _, err := disinheritSpec(cmd); err == nil {
			t.Error("disinheritSpec() error = nil without --include and --recursive defined")
		}
	})

	t.Run("registered command", func(t *testing.T) {
		if err := disinheritCmd.ParseFlags([]string{"--exclude=de"}); err != nil {
			t.Fatalf("ParseFlags() error = %v", err)
		}
		spec, err := disinheritSpec(disinheritCmd)
		if err != nil {
			t.Fatalf("disinheritSpec() error = %v", err)
		}
		if !slices.Equal(spec.Excluded, []string{"de"}) || spec.Default {
			t.Errorf("spec = %+v", spec)
		}
	})
}

func TestModeFlag(t *testing.T) {
	tests := []struct {
		args    []string
		want    wastebin.Mode
		wantErr bool
	}{
		{nil, wastebin.Exclude, false},
		{[]string{"--wastebin=include"}, wastebin.Include, false},
		{[]string{"--wastebin", "only"}, wastebin.Only, false},
		{[]string{"--wastebin=all"}, wastebin.Exclude, true},
	}
	for _, tt := range tests {
		cmd := &cobra.Command{Use: "ls"}
		cmd.Flags().String("wastebin", "exclude", "")
		if err := cmd.ParseFlags(tt.args); err != nil {
			t.Fatalf("ParseFlags(%v) error = %v", tt.args, err)
		}
		got, err := modeFlag(cmd)
		if (err != nil) != tt.wantErr {
			t.Errorf("modeFlag(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("modeFlag(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}

	t.Run("flag not defined", func(t *testing.T) {
		if _, err := modeFlag(&cobra.Command{Use: "x"}); err == nil {
			t.Error("modeFlag() error = nil for undefined flag")
		}
	})
}
