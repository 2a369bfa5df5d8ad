package transform

import (
	"strings"
	"testing"
)

func mustDesugar(t *testing.T, src string) string {
	t.Helper()
	out, err := DesugarJSX(src)
	if err != nil {
		t.Fatalf("desugar failed: %v\nsource:\n%s", err, src)
	}
	return out
}

func TestDesugarSimpleElement(t *testing.T) {
	out := mustDesugar(t, `const x = <div className="box">Hello</div>;`)
	want := `const x = React.createElement("div", {className: "box"}, "Hello");`
	if out != want {
		t.Errorf("got  %s\nwant %s", out, want)
	}
}

func TestDesugarSelfClosing(t *testing.T) {
	out := mustDesugar(t, `const x = <br />;`)
	if out != `const x = React.createElement("br", null);` {
		t.Errorf("unexpected output %s", out)
	}
}

func TestDesugarComponentTag(t *testing.T) {
	out := mustDesugar(t, `const x = <Button kind="primary" />;`)
	if !strings.Contains(out, `React.createElement(Button, {kind: "primary"})`) {
		t.Errorf("component tag not kept as identifier: %s", out)
	}
}

func TestDesugarMemberTag(t *testing.T) {
	out := mustDesugar(t, `const x = <UI.Card />;`)
	if !strings.Contains(out, "React.createElement(UI.Card, null)") {
		t.Errorf("member tag broken: %s", out)
	}
}

func TestDesugarCustomElement(t *testing.T) {
	out := mustDesugar(t, `const x = <my-widget />;`)
	if !strings.Contains(out, `React.createElement("my-widget", null)`) {
		t.Errorf("custom element should stay a string: %s", out)
	}
}

func TestDesugarFragment(t *testing.T) {
	out := mustDesugar(t, `const x = <><span>a</span><span>b</span></>;`)
	if !strings.Contains(out, "React.createElement(React.Fragment, null, ") {
		t.Errorf("fragment broken: %s", out)
	}
}

func TestDesugarExpressionAttr(t *testing.T) {
	out := mustDesugar(t, `const x = <div onClick={() => handle(1)} count={n + 1} />;`)
	if !strings.Contains(out, "onClick: () => handle(1)") {
		t.Errorf("function attr broken: %s", out)
	}
	if !strings.Contains(out, "count: n + 1") {
		t.Errorf("expression attr broken: %s", out)
	}
}

func TestDesugarBooleanAttr(t *testing.T) {
	out := mustDesugar(t, `const x = <input disabled />;`)
	if !strings.Contains(out, "disabled: true") {
		t.Errorf("boolean attr broken: %s", out)
	}
}

func TestDesugarHyphenAttr(t *testing.T) {
	out := mustDesugar(t, `const x = <div aria-label="close" />;`)
	if !strings.Contains(out, `"aria-label": "close"`) {
		t.Errorf("hyphenated attr key not quoted: %s", out)
	}
}

func TestDesugarSpread(t *testing.T) {
	out := mustDesugar(t, `const x = <div {...rest} id="a" />;`)
	if !strings.Contains(out, `Object.assign({}, rest, {id: "a"})`) {
		t.Errorf("spread merge broken: %s", out)
	}
}

func TestDesugarChildExpression(t *testing.T) {
	out := mustDesugar(t, `const x = <ul>{items.map(i => <li key={i}>{i}</li>)}</ul>;`)
	if !strings.Contains(out, `React.createElement("ul", null, items.map(i => React.createElement("li", {key: i}, i)))`) {
		t.Errorf("nested JSX in child expression broken: %s", out)
	}
}

func TestDesugarNestedElements(t *testing.T) {
	src := `function App() {
  return (
    <div className="app">
      <h1>Title</h1>
      <Button label="go" />
    </div>
  );
}`
	out := mustDesugar(t, src)
	if !strings.Contains(out, `React.createElement("h1", null, "Title")`) {
		t.Errorf("nested h1 broken:\n%s", out)
	}
	if !strings.Contains(out, `React.createElement(Button, {label: "go"})`) {
		t.Errorf("nested component broken:\n%s", out)
	}
}

func TestDesugarTextWhitespace(t *testing.T) {
	out := mustDesugar(t, "const x = <p>\n  hello\n  world\n</p>;")
	if !strings.Contains(out, `"hello world"`) {
		t.Errorf("text whitespace not collapsed: %s", out)
	}
}

func TestDesugarCommentChild(t *testing.T) {
	out := mustDesugar(t, `const x = <div>{/* note */}ok</div>;`)
	if strings.Contains(out, "note") {
		t.Errorf("comment child leaked into output: %s", out)
	}
	if !strings.Contains(out, `"ok"`) {
		t.Errorf("text after comment lost: %s", out)
	}
}

func TestDesugarComparisonNotJSX(t *testing.T) {
	src := `const ok = a < b && c > d;`
	out := mustDesugar(t, src)
	if out != src {
		t.Errorf("comparison mangled: %s", out)
	}
}

func TestDesugarGenericsInStringsUntouched(t *testing.T) {
	src := "const s = \"<div>not jsx</div>\"; const t = `<span>${x}</span>`;"
	out := mustDesugar(t, src)
	if strings.Contains(out, "createElement") {
		t.Errorf("JSX rewritten inside string literal: %s", out)
	}
}

func TestDesugarJSXInTemplateSubstitution(t *testing.T) {
	src := "const s = `header ${render(<b>hi</b>)} footer`;"
	out := mustDesugar(t, src)
	if !strings.Contains(out, `React.createElement("b", null, "hi")`) {
		t.Errorf("JSX inside template substitution not rewritten: %s", out)
	}
}

func TestDesugarArrowBody(t *testing.T) {
	out := mustDesugar(t, `const C = () => <div>hi</div>;`)
	if !strings.Contains(out, `React.createElement("div", null, "hi")`) {
		t.Errorf("JSX after arrow broken: %s", out)
	}
}

func TestDesugarUnterminatedElement(t *testing.T) {
	_, err := DesugarJSX(`const x = <div>`)
	if err == nil {
		t.Fatal("expected error for unterminated element")
	}
}

func TestDesugarMismatchedClosingTag(t *testing.T) {
	_, err := DesugarJSX(`const x = <div>text</span>;`)
	if err == nil {
		t.Fatal("expected error for mismatched closing tag")
	}
}
