//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/pklkb/internal/domain"
	"github.com/eliteGoblin/pklkb/internal/infra"
	"github.com/eliteGoblin/pklkb/internal/usecase"
	"github.com/eliteGoblin/pklkb/test/fixtures"
)

var _ = Describe("Compile Pipeline", func() {
	var (
		tmpDir     string
		fakePkl    *fixtures.FakePkl
		sourcePath string
		outputPath string
		pipeline   *usecase.Pipeline
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "pklkb-integration-*")
		Expect(err).NotTo(HaveOccurred())

		fakePkl = fixtures.NewFakePkl(tmpDir)

		sourcePath = filepath.Join(tmpDir, "karabiner.pkl")
		err = os.WriteFile(sourcePath, []byte("amends \"modulepath:/karabiner.pkl\"\n"), 0644)
		Expect(err).NotTo(HaveOccurred())

		outputPath = filepath.Join(tmpDir, "karabiner", "karabiner.json")
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	newPipeline := func() *usecase.Pipeline {
		evaluator := infra.NewPklEvaluatorWithPaths(fakePkl.Path(), tmpDir, "", zap.NewNop())
		return usecase.NewPipeline(evaluator, sourcePath, outputPath, zap.NewNop())
	}

	Describe("Run", func() {
		Context("when the target file does not exist", func() {
			It("should create it with the generated profile", func() {
				err := fakePkl.Succeed(`{"config":{"profiles":[{"name":"pkl","complex_modifications":{"rules":[]}}]}}`)
				Expect(err).NotTo(HaveOccurred())

				pipeline = newPipeline()
				Expect(pipeline.Run(context.Background(), usecase.Options{})).To(Succeed())

				doc, err := usecase.LoadDocument(outputPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(doc.Title).To(Equal(domain.DefaultTitle))
				Expect(doc.Profiles).To(HaveLen(1))
				Expect(doc.Profiles[0].Name).To(Equal("pkl"))
			})
		})

		Context("when the target already has hand-maintained profiles", func() {
			It("should replace only the generated profile and keep selection", func() {
				existing := `{
  "title": "My Setup",
  "profiles": [
    {"name": "Work", "selected": false},
    {"name": "pkl", "selected": true, "complex_modifications": {"rules": []}}
  ]
}`
				Expect(os.MkdirAll(filepath.Dir(outputPath), 0755)).To(Succeed())
				Expect(os.WriteFile(outputPath, []byte(existing), 0644)).To(Succeed())

				err := fakePkl.Succeed(`{"config":{"profiles":[{"name":"pkl","virtual_hid_keyboard":{"keyboard_type_v2":"ansi"}}]}}`)
				Expect(err).NotTo(HaveOccurred())

				pipeline = newPipeline()
				Expect(pipeline.Run(context.Background(), usecase.Options{})).To(Succeed())

				doc, err := usecase.LoadDocument(outputPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(doc.Title).To(Equal("My Setup"))
				Expect(doc.Profiles).To(HaveLen(2))

				idx := doc.FindProfile("pkl")
				Expect(idx).To(BeNumerically(">=", 0))
				selected, ok := doc.Profiles[idx].Selected()
				Expect(ok).To(BeTrue())
				Expect(selected).To(BeTrue())
			})
		})

		Context("when recompiled with unchanged input", func() {
			It("should produce identical output", func() {
				err := fakePkl.Succeed(`{"config":{"profiles":[{"name":"pkl"}]}}`)
				Expect(err).NotTo(HaveOccurred())

				pipeline = newPipeline()
				Expect(pipeline.Run(context.Background(), usecase.Options{})).To(Succeed())
				first, err := os.ReadFile(outputPath)
				Expect(err).NotTo(HaveOccurred())

				Expect(pipeline.Run(context.Background(), usecase.Options{})).To(Succeed())
				second, err := os.ReadFile(outputPath)
				Expect(err).NotTo(HaveOccurred())

				Expect(second).To(Equal(first))
			})
		})

		Context("when pkl reports a compile error", func() {
			It("should surface the diagnostic and leave the target untouched", func() {
				err := fakePkl.Fail("–– Pkl Error ––\nunexpected token (line 1)\n")
				Expect(err).NotTo(HaveOccurred())

				pipeline = newPipeline()
				err = pipeline.Run(context.Background(), usecase.Options{})

				var compileErr *domain.CompileError
				Expect(errors.As(err, &compileErr)).To(BeTrue())
				Expect(compileErr.Message).To(ContainSubstring("unexpected token"))

				_, statErr := os.Stat(outputPath)
				Expect(os.IsNotExist(statErr)).To(BeTrue())
			})
		})
	})

	Describe("Check", func() {
		It("should validate without writing output", func() {
			err := fakePkl.Succeed(`{"config":{"profiles":[{"name":"pkl"}]}}`)
			Expect(err).NotTo(HaveOccurred())

			pipeline = newPipeline()
			Expect(pipeline.Check(context.Background())).To(Succeed())

			_, statErr := os.Stat(outputPath)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})
	})
})
