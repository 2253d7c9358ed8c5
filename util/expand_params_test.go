package util

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestIsExpandable(t *testing.T) {

	Convey("With a passed in string...", t, func() {
		Convey("IsExpandable should return true if the string is expandable",
			func() {
				So(IsExpandable("${34}"), ShouldEqual, true)
				So(IsExpandable("{${34}}"), ShouldEqual, true)
				So(IsExpandable("${34"), ShouldEqual, false)
				So(IsExpandable("$34"), ShouldEqual, false)
				So(IsExpandable("34"), ShouldEqual, false)
			})
	})
}

func TestExpandValues(t *testing.T) {

	Convey("When expanding tagged values", t, func() {

		expansions := NewExpansions(map[string]string{
			"branch": "main",
		})

		Convey("a non-pointer or non-struct input should error", func() {
			So(ExpandValues("hello", expansions), ShouldNotBeNil)
			So(ExpandValues(struct{}{}, expansions), ShouldNotBeNil)
			So(ExpandValues([]string{"hi"}, expansions), ShouldNotBeNil)
		})

		Convey("a tagged non-string field should error", func() {
			type params struct {
				Script  string `plugin:"expand"`
				Retries int    `plugin:"expand"`
			}
			So(ExpandValues(&params{}, expansions), ShouldNotBeNil)
		})

		Convey("only tagged string fields should be expanded", func() {
			type params struct {
				Raw    string
				Script string `plugin:"expand"`
				Extra  string `plugin:"expand,other"`
			}
			p := &params{
				Raw:    "checkout ${branch}",
				Script: "checkout ${branch}",
				Extra:  "fallback ${missing|none}",
			}

			So(ExpandValues(p, expansions), ShouldBeNil)
			So(p.Raw, ShouldEqual, "checkout ${branch}")
			So(p.Script, ShouldEqual, "checkout main")
			So(p.Extra, ShouldEqual, "fallback none")
		})

		Convey("tagged nested structs should be expanded recursively", func() {
			type inner struct {
				Value string `plugin:"expand"`
			}
			type outer struct {
				Tagged   inner `plugin:"expand"`
				Untagged inner
			}
			o := &outer{
				Tagged:   inner{Value: "on ${branch}"},
				Untagged: inner{Value: "on ${branch}"},
			}

			So(ExpandValues(o, expansions), ShouldBeNil)
			So(o.Tagged.Value, ShouldEqual, "on main")
			So(o.Untagged.Value, ShouldEqual, "on ${branch}")
		})

		Convey("tagged maps should expand both keys and values", func() {
			type params struct {
				Env map[string]string `plugin:"expand"`
			}
			p := &params{Env: map[string]string{
				"TARGET":    "refs/${branch}",
				"${branch}": "true",
			}}

			So(ExpandValues(p, expansions), ShouldBeNil)
			So(p.Env["TARGET"], ShouldEqual, "refs/main")
			So(p.Env["main"], ShouldEqual, "true")
		})

		Convey("tagged slices should expand their elements", func() {
			type elem struct {
				Arg   string `plugin:"expand"`
				Other string
			}
			type params struct {
				Args []*elem `plugin:"expand"`
			}
			p := &params{Args: []*elem{{Arg: "--branch=${branch}", Other: "${branch}"}}}

			So(ExpandValues(p, expansions), ShouldBeNil)
			So(p.Args[0].Arg, ShouldEqual, "--branch=main")
			So(p.Args[0].Other, ShouldEqual, "${branch}")
		})
	})
}
