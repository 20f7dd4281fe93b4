/* Copyright 2026 The jtx Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// jtxd serves example pages and renders static snapshots.
//
// Usage:
//
//	jtxd serve [-c config.yaml] [-p PORT] [-d DIR]
//	jtxd render PAGE.html
//
// 'serve' serves DIR over HTTP, rendering *.md files as HTML on the
// fly.  'render' initializes an engine over the page, waits for its
// sources to settle, and prints the resulting document: a server-side
// snapshot.
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jtx-io/jtx/core"
	"github.com/jtx-io/jtx/dom"
	"github.com/jtx-io/jtx/storage"
	boltstore "github.com/jtx-io/jtx/storage/bolt"

	"github.com/jsccast/yaml"
	md "github.com/russross/blackfriday/v2"
)

// Config is the optional YAML server configuration.  Flags override.
type Config struct {
	Port  int    `yaml:"port"`
	Dir   string `yaml:"dir"`
	Store string `yaml:"store"` // bbolt filename for persisted state
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "serve":
		serve(os.Args[2:])
	case "render":
		render(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: jtxd (serve|render) ...\n")
	os.Exit(1)
}

func loadConfig(filename string) (*Config, error) {
	conf := &Config{Port: 8080, Dir: "."}
	if filename == "" {
		return conf, nil
	}
	bs, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(bs, conf); err != nil {
		return nil, err
	}
	return conf, nil
}

func serve(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var (
		confFile = fs.String("c", "", "Optional YAML config filename")
		port     = fs.Int("p", 0, "Port (overrides config)")
		dir      = fs.String("d", "", "Page directory (overrides config)")
	)
	fs.Parse(args)

	conf, err := loadConfig(*confFile)
	if err != nil {
		log.Fatal(err)
	}
	if *port != 0 {
		conf.Port = *port
	}
	if *dir != "" {
		conf.Dir = *dir
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(conf.Dir, filepath.Clean(r.URL.Path))
		if strings.HasSuffix(path, ".md") {
			bs, err := ioutil.ReadFile(path)
			if err != nil {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write(md.Run(bs))
			return
		}
		http.ServeFile(w, r, path)
	})

	addr := fmt.Sprintf(":%d", conf.Port)
	log.Printf("jtxd serving %s on %s", conf.Dir, addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func render(args []string) {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	var (
		confFile = fs.String("c", "", "Optional YAML config filename")
	)
	fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
	}

	conf, err := loadConfig(*confFile)
	if err != nil {
		log.Fatal(err)
	}

	var store storage.Store = storage.NewMem()
	if conf.Store != "" {
		bs, err := boltstore.NewStorage(conf.Store)
		if err != nil {
			log.Fatal(err)
		}
		if err := bs.Open(); err != nil {
			log.Fatal(err)
		}
		defer bs.Close()
		store = bs
	}

	page, err := ioutil.ReadFile(fs.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	doc, err := dom.ParseString(string(page))
	if err != nil {
		log.Fatal(err)
	}

	e := core.NewEngine(doc, &core.Options{Store: store})
	defer e.Close()
	if err := e.Init(nil); err != nil {
		log.Fatal(err)
	}
	e.Drain()
	e.Flush()

	fmt.Println(doc.Root.OuterHTML())
}
