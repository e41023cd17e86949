package extraction

// SystemPrompt describes the CSV contract the response parser expects.
const SystemPrompt = `Você vai receber a imagem de uma página de extrato de conta bancária.
Débitos podem aparecer em vermelho, com sinal de menos, com a letra "D" ou outra marcação.
Créditos podem aparecer em azul, com sinal de mais, com a letra "C" ou outra marcação.

O extrato costuma ser uma tabela. Identifique a coluna com o valor de cada movimentação e
ignore colunas de saldo. Considere apenas as movimentações financeiras.

Responda somente com um CSV neste formato:

tipo,valor,origem, data
debito,22.97,IFOOD.COM,28/03/2025
debito,25.11,SHPP BRASIL,04/05/2025
credito,12.19,SHPP BRASIL,05/05/2025

Regras:
1. "tipo" é "debito" ou "credito".
2. "valor" é positivo, com ponto como separador decimal e sem separador de milhar.
3. "origem" deve conter apenas o nome da pessoa ou empresa da movimentação, sem prefixos
   como "PIX QRS", "DEV PIX" ou "TED" e sem datas grudadas no nome. Se não houver nome,
   copie o texto como está no extrato.
4. "data" no formato dd/mm/aaaa.
5. Deixe vazio o campo que não encontrar.
6. Nunca inclua linhas de saldo, como "SALDO DO DIA" ou "SALDO ANTERIOR".`
