package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapESModuleExportDefault(t *testing.T) {
	source := "export default { fetch(request) { return new Response('hi') } }"
	got := wrapESModule(source)

	assert.Contains(t, got, "globalThis.__orbit_module__ = { fetch(request)")
	assert.NotContains(t, got, "export default")
}

func TestWrapESModuleExportDefaultAfterStatements(t *testing.T) {
	source := "const name = 'svc';\nexport default { fetch() { return name } }"
	got := wrapESModule(source)

	assert.Contains(t, got, "const name = 'svc';")
	assert.Contains(t, got, "globalThis.__orbit_module__ = { fetch()")
}

func TestWrapESModuleExportBlockDefault(t *testing.T) {
	// esbuild ESM output style
	source := "var handler = { fetch(req) { return new Response('ok') } };\nexport {\n  handler as default\n};\n"
	got := wrapESModule(source)

	assert.Contains(t, got, "globalThis.__orbit_module__ = handler;")
	assert.NotContains(t, got, "export {")
}

func TestWrapESModuleExportBlockNamed(t *testing.T) {
	source := "function fetch(req) {}\nfunction scheduled(evt) {}\nexport { fetch, scheduled };\n"
	got := wrapESModule(source)

	assert.Contains(t, got, "globalThis.__orbit_module__ = { fetch, scheduled };")
	assert.NotContains(t, got, "export {")
}

func TestWrapESModuleExportBlockAliased(t *testing.T) {
	source := "function handleRequest(req) {}\nexport { handleRequest as fetch };\n"
	got := wrapESModule(source)

	assert.Contains(t, got, "globalThis.__orbit_module__ = { fetch: handleRequest };")
}

func TestWrapESModuleInlineExports(t *testing.T) {
	source := "export function fetch(req) { return new Response('ok') }\nexport const version = 3;\n"
	got := wrapESModule(source)

	assert.Contains(t, got, "function fetch(req)")
	assert.Contains(t, got, "const version = 3;")
	assert.Contains(t, got, "globalThis.__orbit_module__ = { fetch, version };")
	assert.NotContains(t, got, "export function")
	assert.NotContains(t, got, "export const")
}

func TestWrapESModuleInlineAsyncFunction(t *testing.T) {
	source := "export async function fetch(req) { return new Response('ok') }\n"
	got := wrapESModule(source)

	assert.Contains(t, got, "async function fetch(req)")
	assert.Contains(t, got, "globalThis.__orbit_module__ = { fetch };")
}

func TestWrapESModuleNoExports(t *testing.T) {
	source := "globalThis.__orbit_module__ = { fetch() { return new Response('raw') } };"
	assert.Equal(t, source, wrapESModule(source))
}

func TestParseExportBlock(t *testing.T) {
	tests := []struct {
		name        string
		block       string
		wantDefault string
		wantNames   []string
	}{
		{name: "default alias", block: "handler as default", wantDefault: "handler"},
		{name: "plain names", block: "fetch, scheduled", wantNames: []string{"fetch", "scheduled"}},
		{name: "alias", block: "handleRequest as fetch", wantNames: []string{"fetch: handleRequest"}},
		{name: "mixed", block: "handler as default, fetch, util as helpers", wantDefault: "handler", wantNames: []string{"fetch", "helpers: util"}},
		{name: "empty entries ignored", block: " fetch , ", wantNames: []string{"fetch"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotDefault, gotNames := parseExportBlock(tt.block)
			assert.Equal(t, tt.wantDefault, gotDefault)
			assert.Equal(t, tt.wantNames, gotNames)
		})
	}
}
