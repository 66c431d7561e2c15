package blender

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"unicode/utf8"

	"cycaxworker/internal/colour"
	"cycaxworker/internal/placement"
	"cycaxworker/internal/scene"
)

var scriptTemplate = template.Must(template.New("assemble").Funcs(template.FuncMap{
	"py":   pyString,
	"axis": func(a placement.Axis) string { return strconv.Quote(strings.ToUpper(string(a))) },
	"num":  num,
	"vec":  vec,
	"rgba": rgba,
}).Parse(`import base64
import os

import bpy
from math import radians
from mathutils import Matrix, Vector

objs = bpy.data.objects
if "Cube" in objs:
    objs.remove(objs["Cube"], do_unlink=True)


def import_mesh(path, name):
    before = set(bpy.data.objects)
    bpy.ops.wm.stl_import(filepath=path)
    created = [o for o in bpy.data.objects if o not in before]
    if len(created) != 1:
        raise RuntimeError("expected one object from %s, got %d" % (path, len(created)))
    obj = created[0]
    obj.name = name
    return obj


def rotate(obj, axis):
    # One quarter turn; matches transform.rotate(value=radians(270)).
    obj.matrix_world = Matrix.Rotation(radians(90), 4, axis) @ obj.matrix_world


def colour(obj, name, rgba):
    mat = bpy.data.materials.new(name)
    mat.diffuse_color = rgba
    obj.active_material = mat

{{range .Manifest.Objects}}
obj = import_mesh({{py .Mesh}}, {{py .Name}})
{{- range .Rotations}}
rotate(obj, {{axis .}})
{{- end}}
obj.location += Vector({{vec .Translation}})
{{- if .Colour}}
colour(obj, {{py .Material}}, {{rgba .Colour}})
{{- end}}
{{end}}
for screen in bpy.data.screens:
    for area in screen.areas:
        if area.type == "VIEW_3D":
            for space in area.spaces:
                if space.type == "VIEW_3D":
                    space.clip_end = {{num .Manifest.ClipEnd}}

bpy.ops.wm.save_as_mainfile(filepath={{py .Output}})
`))

// pyString renders s as a Python str expression. Go quoting of valid UTF-8
// only uses escapes Python shares. Paths that are not valid UTF-8 are passed
// as raw bytes and decoded the way Python decodes file system names, so the
// bytes survive unchanged.
func pyString(s string) string {
	if utf8.ValidString(s) {
		return strconv.Quote(s)
	}
	return `os.fsdecode(base64.b64decode("` + base64.StdEncoding.EncodeToString([]byte(s)) + `"))`
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func vec(v placement.Vec3) string {
	return "(" + num(v[0]) + ", " + num(v[1]) + ", " + num(v[2]) + ")"
}

func rgba(c *colour.RGB) string {
	return "(" + num(c[0]) + ", " + num(c[1]) + ", " + num(c[2]) + ", " + num(scene.MaterialAlpha) + ")"
}

// Script renders the Blender Python program that builds m and saves it to
// output.
func Script(m scene.Manifest, output string) (string, error) {
	var b strings.Builder
	data := struct {
		Manifest scene.Manifest
		Output   string
	}{Manifest: m, Output: output}
	if err := scriptTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render blender script: %w", err)
	}
	return b.String(), nil
}
