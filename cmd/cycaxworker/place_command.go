package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cycaxworker/internal/placement"
	"cycaxworker/internal/services"
)

type placementView struct {
	Rotmax      placement.Vec3   `json:"rotmax"`
	Position    placement.Vec3   `json:"position"`
	Rotations   []placement.Axis `json:"rotations"`
	Offset      placement.Vec3   `json:"offset"`
	Extents     placement.Vec3   `json:"extents"`
	Translation placement.Vec3   `json:"translation"`
}

func newPlaceCommand() *cobra.Command {
	var rotmaxFlag string
	var positionFlag string
	var rotateFlag []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "place",
		Short: "Compute the placement of one part",
		Long: `Compute where a part lands after its rotations without building a scene.

Rotations are applied in the order given, for example --rotate z --rotate x
or --rotate z,x.`,
		Example:     "  cycaxworker place --rotmax 5,5,5 --position 10,0,0 --rotate z",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rotmax, err := parseVec3("rotmax", rotmaxFlag)
			if err != nil {
				return err
			}
			position, err := parseVec3("position", positionFlag)
			if err != nil {
				return err
			}
			rotations := make([]placement.Rotation, 0, len(rotateFlag))
			for _, raw := range rotateFlag {
				axis, err := placement.ParseAxis(raw)
				if err != nil {
					return err
				}
				rotations = append(rotations, placement.Rotation{Axis: axis})
			}

			p, err := placement.Compute(rotmax, position, rotations)
			if err != nil {
				return err
			}
			view := placementView{
				Rotmax:      rotmax,
				Position:    position,
				Rotations:   make([]placement.Axis, 0, len(p.Rotations)),
				Offset:      p.Offset,
				Extents:     p.Extents,
				Translation: p.Translation,
			}
			for _, r := range p.Rotations {
				view.Rotations = append(view.Rotations, r.Axis)
			}
			if jsonOut {
				return writeJSON(cmd, view)
			}

			axes := "none"
			if len(view.Rotations) > 0 {
				names := make([]string, len(view.Rotations))
				for i, a := range view.Rotations {
					names[i] = strings.ToUpper(string(a))
				}
				axes = strings.Join(names, " then ")
			}
			rows := [][]string{
				{"Rotations", axes},
				{"Offset", view.Offset.String()},
				{"Extents", view.Extents.String()},
				{"Translation", view.Translation.String()},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{textCol("Field"), textCol("Value")}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&rotmaxFlag, "rotmax", "0,0,0", "Bounding extents x,y,z of the part before rotation")
	cmd.Flags().StringVar(&positionFlag, "position", "0,0,0", "Assembly position x,y,z")
	cmd.Flags().StringSliceVar(&rotateFlag, "rotate", nil, "Rotation axis (x, y or z); repeat or comma-separate")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the placement as JSON")
	return cmd
}

func parseVec3(name, raw string) (placement.Vec3, error) {
	var v placement.Vec3
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return v, services.Wrap(services.ErrValidation, "cli", "parse "+name,
			fmt.Sprintf("--%s wants three comma-separated numbers, got %q", name, raw), nil)
	}
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return v, services.Wrap(services.ErrValidation, "cli", "parse "+name,
				fmt.Sprintf("--%s component %d", name, i), err)
		}
		v[i] = value
	}
	return v, nil
}
