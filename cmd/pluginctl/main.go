// Command pluginctl scaffolds new plugin code: a compiled-in handler
// (linked directly into a host binary) or an extension binary (loaded at
// runtime over internal/extension's go-plugin protocol). Adapted from
// goatflow's cmd/gk scaffolding tool, generalized from wasm/grpc plugin
// templates to handler/extension templates for this runtime's two handler
// kinds.
package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates/*
var templateFS embed.FS

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "handler":
		if len(os.Args) < 3 {
			fmt.Println("Usage: pluginctl handler <command>")
			fmt.Println("Commands: init")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "init":
			handlerInit()
		default:
			fmt.Printf("Unknown handler command: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "extension":
		if len(os.Args) < 3 {
			fmt.Println("Usage: pluginctl extension <command>")
			fmt.Println("Commands: init")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "init":
			extensionInit()
		default:
			fmt.Printf("Unknown extension command: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Println("pluginctl version 0.1.0")
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("pluginctl - plugin execution runtime development tool")
	fmt.Println()
	fmt.Println("Usage: pluginctl <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  handler init <name>    Create a new compiled-in handler from template")
	fmt.Println("  extension init <name>  Create a new extension binary from template")
	fmt.Println("  help                   Show this help message")
	fmt.Println("  version                Show version information")
}

func handlerInit() {
	name := scaffoldName()
	dir := filepath.Join("handlers", name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Printf("Error creating directory: %v\n", err)
		os.Exit(1)
	}

	data := templateData(name, "A compiled-in handler for the plugin execution runtime")
	writeTemplate(filepath.Join(dir, "main.go"), "templates/handler_main.go.tmpl", data)

	fmt.Printf("Created handler: %s/\n", dir)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  register Handler and Registration into your host's runner.Registry")
}

func extensionInit() {
	name := scaffoldName()
	dir := filepath.Join("extensions", name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Printf("Error creating directory: %v\n", err)
		os.Exit(1)
	}

	data := templateData(name, "An extension binary for the plugin execution runtime")
	writeTemplate(filepath.Join(dir, "main.go"), "templates/extension_main.go.tmpl", data)
	writeTemplate(filepath.Join(dir, "plugin.yaml"), "templates/manifest.yaml.tmpl", data)

	fmt.Printf("Created extension: %s/\n", dir)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  cd %s\n", dir)
	fmt.Printf("  go build -o %s\n", name)
	fmt.Println("  place the directory under your extensions directory for internal/extension.Loader to discover")
}

func scaffoldName() string {
	var name string
	if len(os.Args) > 3 {
		name = os.Args[3]
	} else {
		fmt.Print("Name: ")
		fmt.Scanln(&name)
	}
	if name == "" {
		fmt.Println("Error: name is required")
		os.Exit(1)
	}
	return strings.ToLower(strings.ReplaceAll(name, " ", "-"))
}

func templateData(name, description string) map[string]string {
	return map[string]string{
		"Name":        name,
		"NameTitle":   toTitle(name),
		"NameSnake":   strings.ReplaceAll(name, "-", "_"),
		"Description": description,
	}
}

func writeTemplate(path, tmplPath string, data any) {
	content, err := templateFS.ReadFile(tmplPath)
	if err != nil {
		fmt.Printf("Error reading template %s: %v\n", tmplPath, err)
		os.Exit(1)
	}

	tmpl, err := template.New(filepath.Base(tmplPath)).Parse(string(content))
	if err != nil {
		fmt.Printf("Error parsing template %s: %v\n", tmplPath, err)
		os.Exit(1)
	}

	f, err := os.Create(path)
	if err != nil {
		fmt.Printf("Error creating file %s: %v\n", path, err)
		os.Exit(1)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		fmt.Printf("Error executing template %s: %v\n", tmplPath, err)
		os.Exit(1)
	}
}

func toTitle(s string) string {
	words := strings.Split(s, "-")
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, "")
}
